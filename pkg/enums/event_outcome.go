package enums

// EventOutcome is the normalized verdict a gateway webhook carries.
type EventOutcome string

const (
	EventOutcomeSuccess EventOutcome = "success"
	EventOutcomeFailed  EventOutcome = "failed"
)

var validEventOutcomes = []EventOutcome{
	EventOutcomeSuccess,
	EventOutcomeFailed,
}

// String implements fmt.Stringer.
func (o EventOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known EventOutcome.
func (o EventOutcome) IsValid() bool {
	for _, candidate := range validEventOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
