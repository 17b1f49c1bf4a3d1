package storage

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const (
	separator  = ' '
	terminator = '\n'
)

// Codec is responsible for encoding records into fixed-width rows and decoding
// them back out of the data file.
//
// Row format:
// - for each column, the value right-justified (space padded) to the column width
// - a single separator byte after every column
// - a newline terminator
//
// Every row of a given layout has exactly RecordSize bytes.
type Codec struct {
	widths     []int
	recordSize int
}

// NewCodec creates a codec for the provided column widths
func NewCodec(widths []int) *Codec {
	w := make([]int, len(widths))
	copy(w, widths)

	size := len(w) + 1
	for _, width := range w {
		size += width
	}

	return &Codec{widths: w, recordSize: size}
}

// RecordSize is the sum of the column widths, one separator byte per column and
// one terminator byte
func (c *Codec) RecordSize() int {
	return c.recordSize
}

func (c *Codec) NumColumns() int {
	return len(c.widths)
}

// Widths returns a copy of the column layout
func (c *Codec) Widths() []int {
	w := make([]int, len(c.widths))
	copy(w, c.widths)
	return w
}

// Encode encodes the record into a row ready to be written at a slot. Values wider
// than their column are truncated with a warning.
func (c *Codec) Encode(record Record) ([]byte, error) {
	values := record.Values()
	if len(values) != len(c.widths) {
		return nil, fmt.Errorf("%w: record has %d attributes, layout has %d columns",
			ErrShapeMismatch, len(values), len(c.widths))
	}

	return c.encodeValues(values), nil
}

// EncodeTombstone returns the row written into empty slots
func (c *Codec) EncodeTombstone() []byte {
	values := make([]string, len(c.widths))
	if len(values) > 0 {
		values[0] = TombstoneKey
	}
	return c.encodeValues(values)
}

func (c *Codec) encodeValues(values []string) []byte {
	buf := bytes.Buffer{}
	buf.Grow(c.recordSize)

	for i, width := range c.widths {
		value := fit(values[i], width)
		buf.WriteString(strings.Repeat(" ", width-len(value)))
		buf.WriteString(value)
		buf.WriteByte(separator)
	}
	buf.WriteByte(terminator)

	return buf.Bytes()
}

func fit(value string, width int) string {
	if len(value) > width {
		log.Warnf("value is longer (%d) than max length (%d) for column, truncating %q",
			len(value), width, value)
	}
	return Truncate(value, width)
}

// Truncate cuts value to at most width bytes without splitting a rune. This is the
// form a value takes once stored in a column of that width
func Truncate(value string, width int) string {
	if len(value) <= width {
		return value
	}

	cut := width
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// Decode slices the row into its fixed-width fields, trims them and assigns them
// to the record
func (c *Codec) Decode(row []byte, record Record) error {
	if record.NumAttributes() != len(c.widths) {
		return fmt.Errorf("%w: record has %d attributes, layout has %d columns",
			ErrShapeMismatch, record.NumAttributes(), len(c.widths))
	}

	// Terminator is optional so callers may pass lines already stripped of it
	if len(row) < c.recordSize-1 {
		return fmt.Errorf("%w: row is %d bytes, expected %d", ErrShapeMismatch, len(row), c.recordSize)
	}

	values := make([]string, len(c.widths))
	offset := 0
	for i, width := range c.widths {
		values[i] = strings.TrimSpace(string(row[offset:(offset + width)]))
		// Next value starts after this one plus its separator
		offset += width + 1
	}

	return record.SetValues(values)
}

// IsTombstone reports whether the encoded row holds the tombstone key, without
// decoding the remaining columns
func (c *Codec) IsTombstone(row []byte) bool {
	if len(c.widths) == 0 || len(row) < c.widths[0] {
		return false
	}
	return strings.TrimSpace(string(row[:c.widths[0]])) == TombstoneKey
}
