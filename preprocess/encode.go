package preprocess

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// UnknownCategory replaces null or blank categorical values before encoding.
const UnknownCategory = "Unknown"

// EncodedSuffix is appended to a field name to name its code column.
const EncodedSuffix = "_enc"

// EncodingSource tags which labelling path produced a column's codes.
type EncodingSource int

const (
	// EncodingPrimary means the configured LabelStrategy succeeded.
	EncodingPrimary EncodingSource = iota
	// EncodingFallback means codes were assigned in first-seen order.
	EncodingFallback
)

func (s EncodingSource) String() string {
	if s == EncodingFallback {
		return "fallback"
	}
	return "primary"
}

// LabelStrategy assigns a code to every distinct value.
type LabelStrategy func(values []string) (map[string]int, error)

// EncodedColumn is the integer-coded companion of a categorical field.
type EncodedColumn struct {
	Field  Field
	Name   string
	Codes  []int
	Labels []string // Labels[code] is the category string
	Source EncodingSource
}

// Encoder produces EncodedColumns. The zero value uses SortedLabels.
type Encoder struct {
	Primary LabelStrategy
}

// NewEncoder returns an Encoder using SortedLabels as its primary strategy.
func NewEncoder() *Encoder {
	return &Encoder{Primary: SortedLabels}
}

// Encode encodes each requested field. Records are never modified.
func (e *Encoder) Encode(records []Record, fields []Field) map[Field]EncodedColumn {
	out := make(map[Field]EncodedColumn, len(fields))
	for _, f := range fields {
		out[f] = e.EncodeField(records, f)
	}
	return out
}

// EncodeField encodes a single field. It never fails: when the primary
// strategy errors or returns an incomplete mapping, codes follow first-seen order.
func (e *Encoder) EncodeField(records []Record, f Field) EncodedColumn {
	values := make([]string, len(records))
	for i, r := range records {
		values[i] = CoerceCategory(r.Value(f))
	}

	strategy := e.Primary
	if strategy == nil {
		strategy = SortedLabels
	}
	source := EncodingPrimary
	mapping, err := strategy(values)
	if err != nil || !covers(mapping, values) {
		mapping = FirstSeenLabels(values)
		source = EncodingFallback
	}

	col := EncodedColumn{
		Field:  f,
		Name:   string(f) + EncodedSuffix,
		Codes:  make([]int, len(values)),
		Labels: make([]string, len(mapping)),
		Source: source,
	}
	for i, v := range values {
		col.Codes[i] = mapping[v]
	}
	for v, code := range mapping {
		if code >= 0 && code < len(col.Labels) {
			col.Labels[code] = v
		}
	}
	return col
}

// CoerceCategory maps null or blank values to UnknownCategory.
func CoerceCategory(v *string) string {
	s := Text(v)
	if s == "" {
		return UnknownCategory
	}
	return s
}

// SortedLabels numbers the distinct values in byte order, so the same value
// set always yields the same codes regardless of row order.
func SortedLabels(values []string) (map[string]int, error) {
	uniq := make(map[string]struct{}, len(values))
	for _, v := range values {
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("cannot order invalid UTF-8 value %q", v)
		}
		uniq[v] = struct{}{}
	}
	keys := make([]string, 0, len(uniq))
	for v := range uniq {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	mapping := make(map[string]int, len(keys))
	for i, v := range keys {
		mapping[v] = i
	}
	return mapping, nil
}

// FirstSeenLabels numbers the distinct values in order of first appearance.
func FirstSeenLabels(values []string) map[string]int {
	mapping := make(map[string]int)
	for _, v := range values {
		if _, ok := mapping[v]; !ok {
			mapping[v] = len(mapping)
		}
	}
	return mapping
}

// covers checks that mapping is a bijection from the distinct values onto 0..n-1.
func covers(mapping map[string]int, values []string) bool {
	if mapping == nil {
		return false
	}
	distinct := make(map[string]struct{})
	for _, v := range values {
		if _, ok := mapping[v]; !ok {
			return false
		}
		distinct[v] = struct{}{}
	}
	if len(mapping) != len(distinct) {
		return false
	}
	seen := make([]bool, len(mapping))
	for _, code := range mapping {
		if code < 0 || code >= len(seen) || seen[code] {
			return false
		}
		seen[code] = true
	}
	return true
}

// FieldFromName resolves a user supplied feature name ("GWA", " shs_type ") to a Field.
func FieldFromName(name string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	if IsNumeric(f) || IsCategorical(f) {
		return f, true
	}
	return "", false
}
