package preprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshgroup/dashboard/backend/spreadsheet"
)

func str(s string) *string { return &s }

func completeRecord() Record {
	return Record{
		Firstname:    str("Ana"),
		Lastname:     str("Cruz"),
		Sex:          str("F"),
		Program:      str("BSIT"),
		Municipality: str("Tarlac"),
		Income:       str("15000"),
		SHSType:      str("Public"),
		SHSOrigin:    str("Tarlac NHS"),
		GWA:          str("91.5"),
	}
}

func TestNormalizeAliases(t *testing.T) {
	table := &spreadsheet.Table{
		Headers: []string{" Gender ", "COURSE", "Family Income", "Student Name", "GWA", "Town"},
		Rows: [][]spreadsheet.Cell{
			{str("M"), str("BSCS"), str("20000"), str("Juan Dela Cruz"), str("88"), str("Capas")},
			{str("F"), nil, nil, str("Maria"), str("95"), nil},
		},
	}

	records := Normalize(table)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "M", *first.Sex)
	assert.Equal(t, "BSCS", *first.Program)
	assert.Equal(t, "20000", *first.Income)
	assert.Equal(t, "Capas", *first.Municipality)
	assert.Equal(t, "Juan", *first.Firstname)
	assert.Equal(t, "Dela Cruz", *first.Lastname)
	assert.Nil(t, first.SHSType)
	assert.Nil(t, first.SHSOrigin)
	assert.Equal(t, "Juan Dela Cruz", first.Extra["Student Name"])

	second := records[1]
	assert.Equal(t, 1, second.Index)
	assert.Nil(t, second.Program)
	assert.Equal(t, "Maria", *second.Firstname)
	assert.Equal(t, "", *second.Lastname)
}

func TestNormalizeKeepsExplicitNameColumns(t *testing.T) {
	table := &spreadsheet.Table{
		Headers: []string{"name", "first name", "last name"},
		Rows:    [][]spreadsheet.Cell{{str("Ignored Value"), str("Ana"), str("Reyes")}},
	}
	records := Normalize(table)
	require.Len(t, records, 1)
	assert.Equal(t, "Ana", *records[0].Firstname)
	assert.Equal(t, "Reyes", *records[0].Lastname)
}

func TestCompleteness(t *testing.T) {
	ok := completeRecord()
	assert.True(t, IsComplete(ok))

	na := completeRecord()
	na.Income = str("N/A")
	assert.False(t, IsComplete(na))

	for _, sentinel := range []string{"", "  ", "na", "NA", "None", "n/a"} {
		r := completeRecord()
		r.Program = str(sentinel)
		assert.False(t, IsComplete(r), "sentinel %q", sentinel)
	}

	bad := completeRecord()
	bad.GWA = str("ninety")
	assert.False(t, IsComplete(bad))

	missing := completeRecord()
	missing.SHSOrigin = nil
	assert.False(t, IsComplete(missing))

	comma := completeRecord()
	comma.Income = str("15,000")
	assert.True(t, IsComplete(comma))
}

func TestFilterCompletePreservesIndex(t *testing.T) {
	a, b, c := completeRecord(), completeRecord(), completeRecord()
	a.Index, b.Index, c.Index = 0, 1, 2
	b.Income = nil

	out := FilterComplete([]Record{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Index)
	assert.Equal(t, 2, out[1].Index)
}

func TestEncoderIsStableForSameValueSet(t *testing.T) {
	rows := func(values ...string) []Record {
		out := make([]Record, len(values))
		for i, v := range values {
			out[i] = Record{Program: str(v)}
		}
		return out
	}
	enc := NewEncoder()

	one := enc.EncodeField(rows("BSIT", "BSCS", "BSIT", ""), FieldProgram)
	two := enc.EncodeField(rows("", "BSIT", "BSCS"), FieldProgram)

	assert.Equal(t, EncodingPrimary, one.Source)
	assert.Equal(t, "program_enc", one.Name)
	assert.Len(t, one.Labels, 3)
	assert.Equal(t, one.Labels, two.Labels)
	assert.Equal(t, one.Codes[0], one.Codes[2])
	assert.Equal(t, UnknownCategory, one.Labels[one.Codes[3]])
}

func TestEncoderFallsBackOnStrategyFailure(t *testing.T) {
	records := []Record{{Sex: str("M")}, {Sex: nil}, {Sex: str("F")}, {Sex: str("M")}}

	failing := &Encoder{Primary: func([]string) (map[string]int, error) {
		return nil, errors.New("boom")
	}}
	col := failing.EncodeField(records, FieldSex)
	assert.Equal(t, EncodingFallback, col.Source)
	assert.Equal(t, []int{0, 1, 2, 0}, col.Codes)
	assert.Equal(t, []string{"M", UnknownCategory, "F"}, col.Labels)

	partial := &Encoder{Primary: func([]string) (map[string]int, error) {
		return map[string]int{"M": 0}, nil
	}}
	col = partial.EncodeField(records, FieldSex)
	assert.Equal(t, EncodingFallback, col.Source)
	assert.Equal(t, []int{0, 1, 2, 0}, col.Codes)
}

func TestEncodeDoesNotMutateRecords(t *testing.T) {
	records := []Record{{Sex: nil}, {Sex: str("F")}}
	cols := NewEncoder().Encode(records, []Field{FieldSex})
	require.Contains(t, cols, FieldSex)
	assert.Nil(t, records[0].Sex)
	assert.Equal(t, "F", *records[1].Sex)
}

func TestFieldFromName(t *testing.T) {
	f, ok := FieldFromName(" GWA ")
	assert.True(t, ok)
	assert.Equal(t, FieldGWA, f)

	_, ok = FieldFromName("firstname")
	assert.False(t, ok)
	_, ok = FieldFromName("height")
	assert.False(t, ok)
}

func TestDerivationRulesAreTotal(t *testing.T) {
	cases := []struct {
		gwa  *string
		want string
	}{
		{nil, HonorsNA},
		{str("abc"), HonorsNA},
		{str("0"), HonorsNA},
		{str("101"), HonorsNA},
		{str("98"), HonorsHighest},
		{str("96.5"), HonorsHigh},
		{str("90"), HonorsWith},
		{str("89.99"), HonorsNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HonorsForGWA(c.gwa))
	}
	assert.Equal(t, HonorsWith, ClassifyHonors(Record{GWA: str("92")}))

	incomes := []struct {
		income *string
		want   string
	}{
		{nil, IncomeUnknown},
		{str("N/A"), IncomeUnknown},
		{str("-5"), IncomeUnknown},
		{str("0"), IncomePoor},
		{str("15000"), IncomeLow},
		{str("48120"), IncomeMiddle},
		{str("240600"), IncomeRich},
	}
	for _, c := range incomes {
		assert.Equal(t, c.want, ClassifyIncome(c.income))
	}
}
