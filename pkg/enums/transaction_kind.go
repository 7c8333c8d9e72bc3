package enums

// TransactionKind classifies the direction of a balance movement.
type TransactionKind string

const (
	TransactionKindUnknown TransactionKind = "unknown"
	TransactionKindCredit  TransactionKind = "credit"
	TransactionKindDebit   TransactionKind = "debit"
	TransactionKindRefund  TransactionKind = "refund"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindUnknown,
	TransactionKindCredit,
	TransactionKindDebit,
	TransactionKindRefund,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known TransactionKind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}
