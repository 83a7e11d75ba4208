package enums

import "fmt"

// InvoiceStatus tracks where an invoice sits in its payment lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusPending           InvoiceStatus = "pending"
	InvoiceStatusPaid              InvoiceStatus = "paid"
	InvoiceStatusPartiallyRefunded InvoiceStatus = "partially_refunded"
	InvoiceStatusRefunded          InvoiceStatus = "refunded"
	InvoiceStatusVoid              InvoiceStatus = "void"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPaid,
	InvoiceStatusPartiallyRefunded,
	InvoiceStatusRefunded,
	InvoiceStatusVoid,
}

// String implements fmt.Stringer.
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsRefundable reports whether an approved refund request may run against the
// invoice. Refunded stays refundable because a partially refunded invoice can
// receive further approved requests before the classification catches up.
func (s InvoiceStatus) IsRefundable() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusPartiallyRefunded || s == InvoiceStatusRefunded
}

// ParseInvoiceStatus converts raw input into an InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}
