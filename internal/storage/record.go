package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// TombstoneKey is the key column value marking a slot as logically empty
const TombstoneKey = "-1"

// Record is an ordered, fixed-count list of named string attributes. Attribute 0
// is the key column. Values returns a fresh copy each call so encoders never share
// cursor state with the record.
type Record interface {
	// Values returns the attribute values in column order
	Values() []string

	// SetValues replaces every attribute. Returns ErrShapeMismatch if len(values)
	// differs from NumAttributes
	SetValues(values []string) error

	// AttributeName returns the display name of the attribute at col
	AttributeName(col int) string

	// NumAttributes returns the fixed number of attributes of this record type
	NumAttributes() int
}

// Factory creates an empty record of a concrete type. Used wherever the store
// needs scratch records to decode into.
type Factory func() Record

// Key returns the trimmed key column of the record
func Key(r Record) string {
	values := r.Values()
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// IntKey parses the key column of the record as an integer
func IntKey(r Record) (int, error) {
	return ParseKey(Key(r))
}

// ParseKey parses a raw key string into the integer used for ordering
func ParseKey(key string) (int, error) {
	k, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidKey, key)
	}
	return k, nil
}

// IsEmpty returns true if the record is a tombstone or carries no key at all
func IsEmpty(r Record) bool {
	key := Key(r)
	return key == TombstoneKey || key == ""
}

// Row is a generic record whose attribute names are supplied at construction
type Row struct {
	names  []string
	fields []string
}

// NewRow creates a record with len(names) attributes, all initialised to the
// tombstone payload
func NewRow(names []string) *Row {
	r := &Row{names: names, fields: make([]string, len(names))}
	if len(r.fields) > 0 {
		r.fields[0] = TombstoneKey
	}
	return r
}

// NewTombstone creates an unnamed record of n attributes holding the tombstone payload
func NewTombstone(n int) *Row {
	return NewRow(make([]string, n))
}

// RowFactory returns a Factory producing rows with the provided attribute names
func RowFactory(names []string) Factory {
	return func() Record { return NewRow(names) }
}

func (r *Row) Values() []string {
	out := make([]string, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r *Row) SetValues(values []string) error {
	if len(values) != len(r.fields) {
		return fmt.Errorf("%w: got %d values, expected %d", ErrShapeMismatch, len(values), len(r.fields))
	}
	copy(r.fields, values)
	return nil
}

func (r *Row) AttributeName(col int) string {
	if col < 0 || col >= len(r.names) {
		return ""
	}
	if r.names[col] == "" {
		return fmt.Sprintf("column %d", col)
	}
	return r.names[col]
}

func (r *Row) NumAttributes() int {
	return len(r.fields)
}

func (r *Row) String() string {
	return strings.Join(r.fields, ",")
}
