package dataset

import (
	"github.com/pkg/errors"
)

// Column names a field of ImageRecord.
type Column string

const (
	ColumnImagePath Column = "ImagePath"
	ColumnLabel     Column = "Label"
)

// ColumnBinding ties a record field to a positional column.
type ColumnBinding struct {
	Name  Column
	Index int
	// Set stores the raw column value into the record.
	Set func(*ImageRecord, string)
	// Get reads the column value from the record.
	Get func(ImageRecord) string
}

// Schema is the ordered column table used to read manifests and write
// result headers.
type Schema struct {
	Columns []ColumnBinding
}

// DefaultSchema binds ImagePath to column 0 and Label to column 1.
func DefaultSchema() Schema {
	return Schema{Columns: []ColumnBinding{
		{
			Name:  ColumnImagePath,
			Index: 0,
			Set:   func(r *ImageRecord, v string) { r.Path = v },
			Get:   func(r ImageRecord) string { return r.Path },
		},
		{
			Name:  ColumnLabel,
			Index: 1,
			Set:   func(r *ImageRecord, v string) { r.Label = v },
			Get:   func(r ImageRecord) string { return r.Label },
		},
	}}
}

// Header returns the column names in table order.
func (s Schema) Header() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = string(c.Name)
	}
	return out
}

// Values returns the record's column values in table order.
func (s Schema) Values(r ImageRecord) []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Get(r)
	}
	return out
}

// Bind builds a record from a row of positional fields.
func (s Schema) Bind(fields []string) (ImageRecord, error) {
	var r ImageRecord
	for _, c := range s.Columns {
		if c.Index >= len(fields) {
			return ImageRecord{}, errors.Errorf("missing column %d (%s): row has %d fields", c.Index, c.Name, len(fields))
		}
		c.Set(&r, fields[c.Index])
	}
	return r, nil
}

// IsHeader reports whether fields are the schema's own header row.
func (s Schema) IsHeader(fields []string) bool {
	for _, c := range s.Columns {
		if c.Index >= len(fields) || fields[c.Index] != string(c.Name) {
			return false
		}
	}
	return true
}
