package enums

import "fmt"

// BillingCycleStatus tracks whether a cycle still accumulates transactions.
type BillingCycleStatus string

const (
	BillingCycleStatusOpen   BillingCycleStatus = "open"
	BillingCycleStatusClosed BillingCycleStatus = "closed"
)

var validBillingCycleStatuses = []BillingCycleStatus{
	BillingCycleStatusOpen,
	BillingCycleStatusClosed,
}

// String implements fmt.Stringer.
func (s BillingCycleStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BillingCycleStatus.
func (s BillingCycleStatus) IsValid() bool {
	for _, candidate := range validBillingCycleStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBillingCycleStatus converts raw input into a BillingCycleStatus.
func ParseBillingCycleStatus(value string) (BillingCycleStatus, error) {
	for _, candidate := range validBillingCycleStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle status %q", value)
}
