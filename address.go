package genesys

// Address identifies one supply on a multi-drop bus. Valid addresses are
// 0 through 30 (manual section 7.2.2).
type Address int

const (
	MinAddress Address = 0
	MaxAddress Address = 30
)

// Valid reports whether the address is inside the multi-drop range.
func (a Address) Valid() bool {
	return a >= MinAddress && a <= MaxAddress
}

// Int returns the address as a plain int.
func (a Address) Int() int {
	return int(a)
}

// validateAddress returns an *AddressError for out-of-range addresses.
func validateAddress(a Address) error {
	if !a.Valid() {
		return &AddressError{Address: a.Int(), Reason: "outside multi-drop range [0,30]"}
	}
	return nil
}
