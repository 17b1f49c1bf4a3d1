package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nbroyles/flatdb/internal/manifest"
	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/util"
	log "github.com/sirupsen/logrus"
)

// Mode is the access mode a data file is opened with
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ErrReadOnly is returned by mutating operations on a table opened ReadOnly
var ErrReadOnly = errors.New("table is opened read-only")

// Table is a random access data file of fixed-size rows. Row i lives at byte
// offset i * RecordSize. The table is not threadsafe; a single caller owns it
// between Open/Create and Close.
type Table struct {
	configPath string
	dataPath   string
	mode       Mode
	file       *os.File
	codec      *storage.Codec
	// numRecords is the number of slots ever written, tombstones included. It is only
	// persisted by WriteConfiguration
	numRecords int
}

// Open opens an existing table. The record count and column layout are read from
// the sidecar config at configPath. Fails with storage.ErrNotFound if either file
// is missing
func Open(configPath string, dataPath string, mode Mode) (*Table, error) {
	config, err := manifest.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not open table: %w", err)
	}

	file, err := openFile(dataPath, mode, false)
	if err != nil {
		return nil, err
	}

	t := &Table{
		configPath: configPath,
		dataPath:   dataPath,
		mode:       mode,
		file:       file,
		codec:      storage.NewCodec(config.ColumnWidths),
		numRecords: config.RecordCount,
	}
	log.Infof("opened table %s (%s) with %d records", dataPath, mode, t.numRecords)

	return t, nil
}

// Create opens a table directly from a column layout, bypassing the sidecar config.
// In ReadWrite mode the data file is created, or truncated if it already exists.
// The config at configPath is only written by WriteConfiguration
func Create(configPath string, dataPath string, mode Mode, columnWidths []int) (*Table, error) {
	if len(columnWidths) == 0 {
		return nil, fmt.Errorf("could not create table %s: no column widths", dataPath)
	}
	for i, width := range columnWidths {
		if width <= 0 {
			return nil, fmt.Errorf("could not create table %s: width of column %d must be positive, got %d",
				dataPath, i, width)
		}
	}

	file, err := openFile(dataPath, mode, true)
	if err != nil {
		return nil, err
	}

	log.Infof("created table %s (%s) with column widths %v", dataPath, mode, columnWidths)

	return &Table{
		configPath: configPath,
		dataPath:   dataPath,
		mode:       mode,
		file:       file,
		codec:      storage.NewCodec(columnWidths),
	}, nil
}

func openFile(dataPath string, mode Mode, create bool) (*os.File, error) {
	var file *os.File
	var err error
	switch {
	case mode == ReadOnly:
		file, err = os.Open(dataPath)
	case create:
		file, err = os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	default:
		file, err = os.OpenFile(dataPath, os.O_RDWR, 0644)
	}

	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: data file %s", storage.ErrNotFound, dataPath)
	} else if err != nil {
		return nil, fmt.Errorf("could not open data file %s: %w", dataPath, err)
	}

	return file, nil
}

// Len returns the number of slots in the table, tombstones included
func (t *Table) Len() int {
	return t.numRecords
}

func (t *Table) RecordSize() int {
	return t.codec.RecordSize()
}

func (t *Table) NumColumns() int {
	return t.codec.NumColumns()
}

func (t *Table) ColumnWidths() []int {
	return t.codec.Widths()
}

func (t *Table) Mode() Mode {
	return t.mode
}

// Size returns the size in bytes of the slots currently addressed by the table
func (t *Table) Size() int64 {
	return t.offset(t.numRecords)
}

func (t *Table) offset(row int) int64 {
	return int64(row) * int64(t.codec.RecordSize())
}

func (t *Table) checkWritable() error {
	if t.file == nil {
		return fmt.Errorf("%w: table %s", storage.ErrClosed, t.dataPath)
	}
	if t.mode != ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnly, t.dataPath)
	}
	return nil
}

func (t *Table) checkOpen() error {
	if t.file == nil {
		return fmt.Errorf("%w: table %s", storage.ErrClosed, t.dataPath)
	}
	return nil
}

func (t *Table) checkRow(row int) error {
	if row < 0 || row >= t.numRecords {
		return fmt.Errorf("%w: row %d in table of size %d", storage.ErrRowOutOfBounds, row, t.numRecords)
	}
	return nil
}

// Write encodes the record into the slot at row. Row may be any existing slot or
// the slot just past the end of the table, in which case the record count grows by
// one. Writing further out would leave unaddressable garbage between slots
func (t *Table) Write(record storage.Record, row int) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if row < 0 || row > t.numRecords {
		return fmt.Errorf("%w: cannot write row %d in table of size %d",
			storage.ErrRowOutOfBounds, row, t.numRecords)
	}

	data, err := t.codec.Encode(record)
	if err != nil {
		return fmt.Errorf("could not encode record for row %d: %w", row, err)
	}

	t.writeSlot(data, row)
	if row == t.numRecords {
		t.numRecords++
	}

	return nil
}

// Update encodes the record into the existing slot at row. The record count is
// unchanged
func (t *Table) Update(record storage.Record, row int) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.checkRow(row); err != nil {
		return err
	}

	data, err := t.codec.Encode(record)
	if err != nil {
		return fmt.Errorf("could not encode record for row %d: %w", row, err)
	}

	t.writeSlot(data, row)

	return nil
}

// WriteAppend writes the record in the slot after the last one and grows the table
func (t *Table) WriteAppend(record storage.Record) error {
	return t.Write(record, t.numRecords)
}

// WriteEmptyAppend writes a tombstone in the slot after the last one and grows the
// table. Used to reserve room for later inserts
func (t *Table) WriteEmptyAppend() error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	t.writeSlot(t.codec.EncodeTombstone(), t.numRecords)
	t.numRecords++

	return nil
}

// writeSlot seeks to the slot, writes it, and restores the previous file offset.
// Failures here mean the data file can no longer be trusted
func (t *Table) writeSlot(data []byte, row int) {
	current, err := t.file.Seek(0, io.SeekCurrent)
	if err != nil {
		log.Panicf("failure getting current position in %s: %v", t.dataPath, err)
	}

	if _, err = t.file.Seek(t.offset(row), io.SeekStart); err != nil {
		log.Panicf("could not seek to row %d in %s: %v", row, t.dataPath, err)
	}

	if err = util.WriteFull(t.file, data); err != nil {
		log.Panicf("failed writing row %d to %s: %v", row, t.dataPath, err)
	}

	if _, err = t.file.Seek(current, io.SeekStart); err != nil {
		log.Panicf("could not restore position %d in %s: %v", current, t.dataPath, err)
	}
}

// readSlot returns the raw bytes of the slot at row, which must be in bounds
func (t *Table) readSlot(row int) ([]byte, error) {
	data := make([]byte, t.codec.RecordSize())
	if n, err := t.file.ReadAt(data, t.offset(row)); errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: row %d is past the end of %s (read %d bytes)",
			storage.ErrRowOutOfBounds, row, t.dataPath, n)
	} else if err != nil {
		log.Panicf("failed reading row %d from %s: %v", row, t.dataPath, err)
	}

	return data, nil
}

// Read decodes the slot at row into out. Returns false if row is outside the table
func (t *Table) Read(row int, out storage.Record) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if row < 0 || row >= t.numRecords {
		return false, nil
	}

	data, err := t.readSlot(row)
	if err != nil {
		return false, err
	}

	if err = t.codec.Decode(data, out); err != nil {
		return false, fmt.Errorf("failed decoding row %d: %w", row, err)
	}

	return true, nil
}

// ReadSkippingTombstones decodes the slot at row into out unless it holds a
// tombstone, in which case it returns false and leaves out untouched. Unlike Read,
// an out of bounds row is an error
func (t *Table) ReadSkippingTombstones(row int, out storage.Record) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if err := t.checkRow(row); err != nil {
		return false, err
	}

	data, err := t.readSlot(row)
	if err != nil {
		return false, err
	}

	if t.codec.IsTombstone(data) {
		return false, nil
	}

	if err = t.codec.Decode(data, out); err != nil {
		return false, fmt.Errorf("failed decoding row %d: %w", row, err)
	}

	return true, nil
}

// ReadBatch fills out with consecutive records starting at row start and returns
// how many were filled. The window [start, start+len(out)) must lie inside the
// table. When skipTombstones is set, tombstones are passed over and reading
// continues past the window until out is full or the table ends
func (t *Table) ReadBatch(start int, out []storage.Record, skipTombstones bool) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if start < 0 || start+len(out) > t.numRecords {
		return 0, fmt.Errorf("%w: requested records %d-%d, available %d",
			storage.ErrRowOutOfBounds, start, start+len(out), t.numRecords)
	}

	filled := 0
	for row := start; row < t.numRecords && filled < len(out); row++ {
		data, err := t.readSlot(row)
		if err != nil {
			return filled, err
		}

		if skipTombstones && t.codec.IsTombstone(data) {
			continue
		}

		if err = t.codec.Decode(data, out[filled]); err != nil {
			return filled, fmt.Errorf("failed decoding row %d: %w", row, err)
		}
		filled++
	}

	return filled, nil
}

// FindNext scans forward from start, wrapping around to the first row, for a
// record whose column equals desired (as it would be stored in that column). The
// scan gives up at the first empty record or after visiting every row. On success
// out holds the matching record
func (t *Table) FindNext(start int, column int, desired string, out storage.Record) (int, bool, error) {
	return t.findNext(start, column, desired, out, false)
}

// FindNextSkippingTombstones is FindNext over a sparse table: tombstones are
// passed over and the scan ends only after visiting every row
func (t *Table) FindNextSkippingTombstones(start int, column int, desired string, out storage.Record) (int, bool, error) {
	return t.findNext(start, column, desired, out, true)
}

func (t *Table) findNext(start int, column int, desired string, out storage.Record, skipTombstones bool) (int, bool, error) {
	if err := t.checkOpen(); err != nil {
		return -1, false, err
	}
	if err := t.checkRow(start); err != nil {
		return -1, false, err
	}
	widths := t.codec.Widths()
	if column < 0 || column >= len(widths) {
		return -1, false, fmt.Errorf("%w: column %d in layout of %d columns",
			storage.ErrShapeMismatch, column, len(widths))
	}

	want := strings.TrimSpace(storage.Truncate(desired, widths[column]))
	for i := 0; i < t.numRecords; i++ {
		row := (start + i) % t.numRecords
		if _, err := t.Read(row, out); err != nil {
			return -1, false, err
		}

		if storage.IsEmpty(out) {
			if skipTombstones {
				continue
			}
			return -1, false, nil
		}

		if out.Values()[column] == want {
			return row, true, nil
		}
	}

	return -1, false, nil
}

// FindNextEmpty returns the nearest tombstone row at or beyond start, scanning up
// (towards higher rows) or down. out is left holding the last populated record
// passed over
func (t *Table) FindNextEmpty(start int, out storage.Record, up bool) (int, bool, error) {
	if err := t.checkOpen(); err != nil {
		return -1, false, err
	}
	if err := t.checkRow(start); err != nil {
		return -1, false, err
	}

	step := -1
	if up {
		step = 1
	}

	for row := start; row >= 0 && row < t.numRecords; row += step {
		populated, err := t.ReadSkippingTombstones(row, out)
		if err != nil {
			return -1, false, err
		}

		if !populated {
			return row, true, nil
		}
	}

	return -1, false, nil
}

// WriteConfiguration persists the record count and column layout to the sidecar
// config, replacing any previous one
func (t *Table) WriteConfiguration() error {
	err := manifest.Write(t.configPath, &manifest.Config{
		RecordCount:  t.numRecords,
		ColumnWidths: t.codec.Widths(),
	})
	if err != nil {
		return fmt.Errorf("could not write configuration for %s: %w", t.dataPath, err)
	}

	return nil
}

// Close releases the data file. The configuration is not written; call
// WriteConfiguration first to persist the record count
func (t *Table) Close() error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	err := t.file.Close()
	t.file = nil
	if err != nil {
		return fmt.Errorf("failed closing data file %s: %w", t.dataPath, err)
	}

	log.Infof("closed table %s with %d records", t.dataPath, t.numRecords)

	return nil
}
