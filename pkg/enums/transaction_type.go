package enums

import "fmt"

// TransactionType tags each ledger entry explicitly instead of inferring the
// kind from the presence of link rows.
type TransactionType string

const (
	TransactionTypeTaskAssignment TransactionType = "task_assignment"
	TransactionTypeTaskClosing    TransactionType = "task_closing"
	TransactionTypePayment        TransactionType = "payment"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeTaskAssignment,
	TransactionTypeTaskClosing,
	TransactionTypePayment,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
