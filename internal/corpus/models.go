package corpus

import (
	"errors"
	"fmt"
	"slices"
)

type RatingField string

const (
	FieldStars RatingField = "stars"
	// FieldLabel holds 0-based class ids; star = label + 1.
	FieldLabel RatingField = "label"
)

var (
	ErrMissingTextField   = errors.New("text column not found (review_body or text)")
	ErrMissingRatingField = errors.New("rating column not found (stars or label)")
)

var DefaultLanguages = []string{"en", "de", "fr", "es", "ja", "zh"}

type Row struct {
	Text   string         `json:"text"`
	Rating int            `json:"rating"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Dataset is an ordered, read-only collection of rows from one language file.
type Dataset struct {
	Language    string
	TextField   string
	RatingField RatingField
	Columns     []string
	Rows        []Row
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Stars returns the 1-based star rating of row i.
func (d *Dataset) Stars(i int) int {
	return NormalizeRating(d.RatingField, d.Rows[i].Rating)
}

func NormalizeRating(field RatingField, value int) int {
	if field == FieldLabel {
		return value + 1
	}
	return value
}

// Filter returns a new dataset holding the rows for which keep returns true.
func Filter(d *Dataset, keep func(Row) bool) *Dataset {
	out := &Dataset{
		Language:    d.Language,
		TextField:   d.TextField,
		RatingField: d.RatingField,
		Columns:     append([]string(nil), d.Columns...),
	}
	for _, row := range d.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Concat appends the rows of others to a copy of d. All datasets must share
// the same rating field.
func Concat(d *Dataset, others ...*Dataset) (*Dataset, error) {
	out := &Dataset{
		Language:    d.Language,
		TextField:   d.TextField,
		RatingField: d.RatingField,
		Columns:     append([]string(nil), d.Columns...),
		Rows:        append([]Row(nil), d.Rows...),
	}
	for _, o := range others {
		if o.RatingField != d.RatingField {
			return nil, fmt.Errorf("cannot concatenate datasets with rating fields %q and %q", d.RatingField, o.RatingField)
		}
		out.Rows = append(out.Rows, o.Rows...)
		for _, c := range o.Columns {
			if !slices.Contains(out.Columns, c) {
				out.Columns = append(out.Columns, c)
			}
		}
	}
	return out, nil
}
