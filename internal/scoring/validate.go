package scoring

const (
	FlagLitterNegative    = "litter_negative"
	FlagLitterImplausible = "litter_implausible"
)

// MaxPlausibleLitter is the count above which a report is flagged for review.
const MaxPlausibleLitter = 500

// Validate returns quality flags for a set of signals. Flags do not block
// scoring except where Compute itself rejects the input.
func Validate(s Signals) []string {
	var flags []string

	if s.LitterCount < 0 {
		flags = append(flags, FlagLitterNegative)
	}
	if s.LitterCount > MaxPlausibleLitter {
		flags = append(flags, FlagLitterImplausible)
	}

	return flags
}
