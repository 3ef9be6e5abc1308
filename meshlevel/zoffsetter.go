package meshlevel

// A ZOffsetter reports the surface height at a point, or false when it
// has no data there.
type ZOffsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

// Flat is a ZOffsetter with no data anywhere.
type Flat struct{}

func (Flat) OffsetZ(x, y float64) (bool, float64) { return false, 0 }
