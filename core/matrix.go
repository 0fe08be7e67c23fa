package core

// BuildMatrix returns the cross product of sizes and specs, sizes in the
// outer loop and specs in the inner loop.  Empty input yields an empty
// matrix; no validation or de-duplication is done here.
func BuildMatrix(sizes []int, specs []FormatSpec) []VariantConfig {
	matrix := make([]VariantConfig, 0, len(sizes)*len(specs))
	for _, size := range sizes {
		for _, spec := range specs {
			matrix = append(matrix, VariantConfig{Spec: spec, Width: size})
		}
	}
	return matrix
}
