// Package preprocess holds the pure stages that prepare student rows for clustering:
// column normalization, categorical encoding, completeness filtering and label derivation.
package preprocess

import (
	"math"
	"strconv"
	"strings"
)

// Field is a canonical column name.
type Field string

const (
	FieldFirstname    Field = "firstname"
	FieldLastname     Field = "lastname"
	FieldSex          Field = "sex"
	FieldProgram      Field = "program"
	FieldMunicipality Field = "municipality"
	FieldIncome       Field = "income"
	FieldSHSType      Field = "shs_type"
	FieldSHSOrigin    Field = "shs_origin"
	FieldGWA          Field = "gwa"
)

// RequiredFields must all be present for a record to be clustered.
var RequiredFields = []Field{
	FieldFirstname, FieldLastname, FieldSex, FieldProgram, FieldMunicipality,
	FieldIncome, FieldSHSType, FieldSHSOrigin, FieldGWA,
}

// CategoricalFields are encoded to integer codes before clustering.
var CategoricalFields = []Field{FieldSex, FieldProgram, FieldMunicipality, FieldSHSType, FieldSHSOrigin}

// NumericFields must parse as finite numbers.
var NumericFields = []Field{FieldGWA, FieldIncome}

// IsCategorical reports whether f is one of CategoricalFields.
func IsCategorical(f Field) bool {
	for _, c := range CategoricalFields {
		if c == f {
			return true
		}
	}
	return false
}

// IsNumeric reports whether f is one of NumericFields.
func IsNumeric(f Field) bool {
	return f == FieldGWA || f == FieldIncome
}

// Record is one student row after normalization. Nil fields are null.
type Record struct {
	// Index is the row position in the source table (or the position in the
	// store query result) and survives filtering.
	Index int
	// StudentID is set when the record was loaded from the store.
	StudentID uint

	Firstname    *string
	Lastname     *string
	Sex          *string
	Program      *string
	Municipality *string
	Income       *string
	SHSType      *string
	SHSOrigin    *string
	GWA          *string

	// Extra keeps every original column keyed by its header text.
	Extra map[string]string
}

// Value returns the raw value of a canonical field.
func (r Record) Value(f Field) *string {
	switch f {
	case FieldFirstname:
		return r.Firstname
	case FieldLastname:
		return r.Lastname
	case FieldSex:
		return r.Sex
	case FieldProgram:
		return r.Program
	case FieldMunicipality:
		return r.Municipality
	case FieldIncome:
		return r.Income
	case FieldSHSType:
		return r.SHSType
	case FieldSHSOrigin:
		return r.SHSOrigin
	case FieldGWA:
		return r.GWA
	}
	return nil
}

func (r *Record) set(f Field, v *string) {
	switch f {
	case FieldFirstname:
		r.Firstname = v
	case FieldLastname:
		r.Lastname = v
	case FieldSex:
		r.Sex = v
	case FieldProgram:
		r.Program = v
	case FieldMunicipality:
		r.Municipality = v
	case FieldIncome:
		r.Income = v
	case FieldSHSType:
		r.SHSType = v
	case FieldSHSOrigin:
		r.SHSOrigin = v
	case FieldGWA:
		r.GWA = v
	}
}

// Number parses a numeric field. ok is false for null or unparseable values.
func (r Record) Number(f Field) (float64, bool) {
	return ParseNumber(r.Value(f))
}

// Text returns the trimmed value or "" for null.
func Text(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// ParseNumber parses a finite number, tolerating surrounding space and thousands separators.
func ParseNumber(v *string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	s := strings.ReplaceAll(strings.TrimSpace(*v), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatNumber renders a stored numeric value back to its record form.
func FormatNumber(v *float64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	return &s
}
