package media

// Resample converts mono float32 PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate (or either rate is invalid, or the
// input is too short to interpolate) the input slice is returned unchanged.
//
// Output length is floor(len(in) * dstRate / srcRate). Each output sample i
// maps to source position i * srcRate/dstRate and interpolates between the
// two neighbouring source samples by the fractional offset; the final
// position clamps to the last valid sample.
func Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return in
	}
	if srcRate == dstRate || len(in) < 2 {
		return in
	}

	dstLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := in[srcIdx]
		s1 := s0
		if srcIdx+1 < len(in) {
			s1 = in[srcIdx+1]
		}

		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
