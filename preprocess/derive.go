package preprocess

// Honors labels, on the 100-point senior high school GWA scale.
const (
	HonorsHighest = "With Highest Honors"
	HonorsHigh    = "With High Honors"
	HonorsWith    = "With Honors"
	HonorsNone    = "No Honors"
	HonorsNA      = "N/A"
)

// Income category labels. Brackets are monthly family income in pesos.
const (
	IncomePoor        = "Poor"
	IncomeLow         = "Low Income"
	IncomeLowerMiddle = "Lower Middle Income"
	IncomeMiddle      = "Middle Income"
	IncomeUpperMiddle = "Upper Middle Income"
	IncomeUpper       = "Upper Income"
	IncomeRich        = "Rich"
	IncomeUnknown     = "Unknown"
)

type incomeBracket struct {
	below float64
	label string
}

// incomeBrackets are multiples of the official poverty line for a family of five.
var incomeBrackets = []incomeBracket{
	{12030, IncomePoor},
	{24060, IncomeLow},
	{48120, IncomeLowerMiddle},
	{84210, IncomeMiddle},
	{144360, IncomeUpperMiddle},
	{240600, IncomeUpper},
}

// ClassifyHonors derives the honors label from a record's GWA.
func ClassifyHonors(r Record) string {
	return HonorsForGWA(r.GWA)
}

// HonorsForGWA returns HonorsNA for a missing, unparseable or out-of-scale GWA.
func HonorsForGWA(v *string) string {
	gwa, ok := ParseNumber(v)
	if !ok || gwa <= 0 || gwa > 100 {
		return HonorsNA
	}
	switch {
	case gwa >= 98:
		return HonorsHighest
	case gwa >= 95:
		return HonorsHigh
	case gwa >= 90:
		return HonorsWith
	default:
		return HonorsNone
	}
}

// ClassifyIncome returns IncomeUnknown for a missing, unparseable or negative income.
func ClassifyIncome(v *string) string {
	income, ok := ParseNumber(v)
	if !ok || income < 0 {
		return IncomeUnknown
	}
	for _, b := range incomeBrackets {
		if income < b.below {
			return b.label
		}
	}
	return IncomeRich
}
