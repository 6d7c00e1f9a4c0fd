package preprocess

import "strings"

var missingSentinels = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"na":   {},
	"none": {},
}

// IsMissing reports whether v is null or one of the sentinel spellings of "no value".
func IsMissing(v *string) bool {
	if v == nil {
		return true
	}
	_, ok := missingSentinels[strings.ToLower(strings.TrimSpace(*v))]
	return ok
}

// IsComplete reports whether every required field is present and numeric fields parse.
func IsComplete(r Record) bool {
	for _, f := range RequiredFields {
		if IsMissing(r.Value(f)) {
			return false
		}
	}
	for _, f := range NumericFields {
		if _, ok := r.Number(f); !ok {
			return false
		}
	}
	return true
}

// FilterComplete returns the complete records in their original order.
// Record.Index is preserved for tracing back to the source rows.
func FilterComplete(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if IsComplete(r) {
			out = append(out, r)
		}
	}
	return out
}
