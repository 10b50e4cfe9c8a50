package types

import "testing"

func TestAddressValidate(t *testing.T) {
	addr := Address{Line1: "12 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "IN"}
	if err := addr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	addr.City = " "
	if err := addr.Validate(); err == nil {
		t.Fatal("expected missing city to fail")
	}
}
