package preprocess

import (
	"strings"

	"github.com/freshgroup/dashboard/backend/spreadsheet"
)

type alias struct {
	canonical Field
	variants  []string
}

// aliases lists, per canonical field, the accepted header spellings in priority order.
var aliases = []alias{
	{FieldSex, []string{"sex", "gender"}},
	{FieldProgram, []string{"program", "course"}},
	{FieldMunicipality, []string{"municipality", "city", "town"}},
	{FieldIncome, []string{"income", "family income", "family_income", "household_income"}},
	{FieldSHSType, []string{"shs_type", "shs type", "senior high", "shs"}},
	{FieldSHSOrigin, []string{
		"shs_origin", "shs origin", "senior high school", "senior high school name",
		"high school origin", "school origin", "school_origin", "shs_school", "high school", "school",
	}},
	{FieldGWA, []string{"gwa", "general weighted average", "general_weighted_average", "general_weighted_average_gwa"}},
	{FieldFirstname, []string{"firstname", "first name", "fname"}},
	{FieldLastname, []string{"lastname", "last name", "surname", "lname"}},
}

var nameVariants = []string{"name", "fullname", "student name", "student_name"}

// Normalize maps arbitrary headers onto the canonical fields and returns one
// Record per table row. Canonical fields with no matching header stay null.
// The table is not modified.
func Normalize(t *spreadsheet.Table) []Record {
	if t == nil {
		return nil
	}

	index := make(map[string]int, len(t.Headers))
	for i, h := range t.Headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	columns := make(map[Field]int, len(aliases))
	for _, a := range aliases {
		if col, ok := lookup(index, a.variants); ok {
			columns[a.canonical] = col
		}
	}
	nameCol, hasName := lookup(index, nameVariants)
	_, hasFirst := columns[FieldFirstname]
	_, hasLast := columns[FieldLastname]
	splitName := hasName && (!hasFirst || !hasLast)

	records := make([]Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec := Record{Index: i, Extra: make(map[string]string, len(t.Headers))}
		for c, h := range t.Headers {
			if c < len(row) && row[c] != nil {
				rec.Extra[h] = *row[c]
			}
		}
		for f, col := range columns {
			if col < len(row) {
				rec.set(f, clone(row[col]))
			}
		}
		if splitName && nameCol < len(row) {
			first, last := SplitName(row[nameCol])
			if !hasFirst {
				rec.Firstname = first
			}
			if !hasLast {
				rec.Lastname = last
			}
		}
		records = append(records, rec)
	}
	return records
}

// SplitName splits a full name on its first space. The remainder may be empty.
func SplitName(full *string) (first, last *string) {
	if full == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*full)
	head, tail, _ := strings.Cut(s, " ")
	tail = strings.TrimSpace(tail)
	return &head, &tail
}

func lookup(index map[string]int, variants []string) (int, bool) {
	for _, v := range variants {
		if col, ok := index[v]; ok {
			return col, true
		}
	}
	return 0, false
}

func clone(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
