package types

import (
	"fmt"
	"strings"
)

// Address is the shipping address copied onto an order at checkout.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      string  `json:"phone,omitempty"`
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return fmt.Errorf("address: missing line1")
	case strings.TrimSpace(a.City) == "":
		return fmt.Errorf("address: missing city")
	case strings.TrimSpace(a.State) == "":
		return fmt.Errorf("address: missing state")
	case strings.TrimSpace(a.PostalCode) == "":
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// PayoutSnapshot is the masked payout destination frozen on a withdrawal.
type PayoutSnapshot struct {
	Method          string `json:"method"`
	AccountLast4    string `json:"account_last4,omitempty"`
	IFSC            string `json:"ifsc,omitempty"`
	BeneficiaryName string `json:"beneficiary_name,omitempty"`
	UPIID           string `json:"upi_id,omitempty"`
}

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any
