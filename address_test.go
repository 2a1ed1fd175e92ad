package genesys

import (
	"errors"
	"testing"
)

func TestAddressValid(t *testing.T) {
	for a := MinAddress; a <= MaxAddress; a++ {
		if !a.Valid() {
			t.Fatalf("Address(%d).Valid() = false", a)
		}
	}
	for _, a := range []Address{-1, 31, 42, 100} {
		if a.Valid() {
			t.Fatalf("Address(%d).Valid() = true", a)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	if err := validateAddress(15); err != nil {
		t.Fatalf("validateAddress(15) error: %v", err)
	}

	err := validateAddress(31)
	var aerr *AddressError
	if !errors.As(err, &aerr) {
		t.Fatalf("validateAddress(31) = %v, want *AddressError", err)
	}
	if aerr.Address != 31 {
		t.Fatalf("AddressError.Address = %d, want 31", aerr.Address)
	}
}
