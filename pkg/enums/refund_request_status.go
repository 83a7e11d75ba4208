package enums

import "fmt"

// RefundRequestStatus is the approval state machine for a refund request.
// Transitions are pending to approved or pending to declined, exactly once.
type RefundRequestStatus string

const (
	RefundRequestStatusPending  RefundRequestStatus = "pending"
	RefundRequestStatusApproved RefundRequestStatus = "approved"
	RefundRequestStatusDeclined RefundRequestStatus = "declined"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusPending,
	RefundRequestStatusApproved,
	RefundRequestStatusDeclined,
}

// String implements fmt.Stringer.
func (s RefundRequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsResolved reports whether the request reached a terminal state.
func (s RefundRequestStatus) IsResolved() bool {
	return s == RefundRequestStatusApproved || s == RefundRequestStatusDeclined
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund request status %q", value)
}
