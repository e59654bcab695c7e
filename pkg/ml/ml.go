package ml

// ArgMax returns the index and value of the largest element of values that is
// strictly greater than zero. Ties resolve to the lowest index. If no element
// is positive, it returns index 0 and value 0.
func ArgMax(values []float32) (int, float32) {
	var (
		maxIdx int
		maxVal float32
	)
	for i, v := range values {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}
