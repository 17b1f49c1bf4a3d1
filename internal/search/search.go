package search

import (
	"errors"
	"fmt"

	"github.com/nbroyles/flatdb/internal/storage"
	log "github.com/sirupsen/logrus"
)

const (
	// insertWindow is the number of slots around the final probe scanned for a
	// tombstone to insert into. Inserts landing in a longer run of populated rows
	// get SlotNoSpace even if tombstones exist further away
	insertWindow = 6
)

var (
	// ErrAlreadyPresent is returned by Insert when a populated row already has the key
	ErrAlreadyPresent = errors.New("a record with that key is already present")

	// ErrNoSpace is returned by Insert when no tombstone is reachable near the key's
	// position. A nearby record must be deleted before retrying
	ErrNoSpace = errors.New("no room for record near its position, delete a record first")
)

// Table is the subset of the fixed record store the search algorithms need
type Table interface {
	Len() int
	NumColumns() int
	ReadSkippingTombstones(row int, out storage.Record) (bool, error)
	ReadBatch(start int, out []storage.Record, skipTombstones bool) (int, error)
	Update(record storage.Record, row int) error
}

// Result is the outcome of a Lookup. Row is -1 when the key was not found
type Result struct {
	Found bool
	Row   int
}

type SlotKind int

const (
	SlotRow SlotKind = iota
	SlotAlreadyPresent
	SlotNoSpace
)

func (k SlotKind) String() string {
	switch k {
	case SlotRow:
		return "row"
	case SlotAlreadyPresent:
		return "already present"
	case SlotNoSpace:
		return "no space"
	default:
		return fmt.Sprintf("SlotKind(%d)", int(k))
	}
}

// Slot is the outcome of FindInsertionSlot. Row is the tombstone to insert into
// for SlotRow and the matching row for SlotAlreadyPresent
type Slot struct {
	Kind SlotKind
	Row  int
}

// Searcher performs key lookups and inserts over a sparse sorted table: populated
// rows are in ascending integer key order, with any number of tombstones between
// them
type Searcher struct {
	table     Table
	newRecord storage.Factory
}

func New(table Table, newRecord storage.Factory) *Searcher {
	return &Searcher{table: table, newRecord: newRecord}
}

// Lookup binary searches for key. When found, out holds the matching record
func (s *Searcher) Lookup(key string, out storage.Record) (Result, error) {
	target, err := storage.ParseKey(key)
	if err != nil {
		return Result{Row: -1}, err
	}

	found, row, err := s.bisect(target, out)
	if err != nil {
		return Result{Row: -1}, err
	}

	if !found {
		return Result{Row: -1}, nil
	}

	return Result{Found: true, Row: row}, nil
}

// bisect is a binary search over [0, Len()) that resolves every probe to a nearby
// populated row. From the midpoint it first scans down for a populated row; only if
// that fails does the next probe scan up, so long tombstone runs can't pull the
// search permanently in one direction. Returns whether target was found along with
// the last probed row. scratch holds the record at that row
func (s *Searcher) bisect(target int, scratch storage.Record) (bool, int, error) {
	low := 0
	high := s.table.Len() - 1
	middle := 0
	searchDown := true

	for low <= high {
		middle = (low + high) / 2

		populated := false
		for middle >= low && middle <= high {
			ok, err := s.table.ReadSkippingTombstones(middle, scratch)
			if err != nil {
				return false, middle, fmt.Errorf("binary search failed reading row %d: %w", middle, err)
			}

			if ok {
				populated = true
				// Reset so the next probe tries down first again
				searchDown = true
				break
			}

			if searchDown {
				middle--
			} else {
				middle++
			}
		}

		if !populated {
			// Both directions tried; [low, high] holds only tombstones
			if !searchDown {
				break
			}
			searchDown = false
			continue
		}

		key, err := storage.IntKey(scratch)
		if err != nil {
			return false, middle, fmt.Errorf("row %d holds a corrupt key: %w", middle, err)
		}

		switch {
		case key == target:
			return true, middle, nil
		case key < target:
			low = middle + 1
		default:
			high = middle - 1
		}
	}

	return false, middle, nil
}

// FindInsertionSlot finds the tombstone a record with key should be written into
// to keep populated rows sorted. After a failed bisection, the slots around the
// final probe are scanned for the nearest populated rows below and above key and
// the first tombstone between them. No rows are moved to make room
func (s *Searcher) FindInsertionSlot(key string) (Slot, error) {
	target, err := storage.ParseKey(key)
	if err != nil {
		return Slot{Kind: SlotNoSpace, Row: -1}, err
	}

	n := s.table.Len()
	if n == 0 {
		return Slot{Kind: SlotNoSpace, Row: -1}, nil
	}

	found, middle, err := s.bisect(target, s.newRecord())
	if err != nil {
		return Slot{Kind: SlotNoSpace, Row: -1}, err
	} else if found {
		return Slot{Kind: SlotAlreadyPresent, Row: middle}, nil
	}

	// A probe that ran off a tombstone run can end just outside the table
	if middle < 0 {
		middle = 0
	} else if middle >= n {
		middle = n - 1
	}

	start := middle - insertWindow/2
	if start < 0 {
		start = 0
	}
	size := insertWindow
	if start+size > n {
		size = n - start
	}

	window := make([]storage.Record, size)
	for i := range window {
		window[i] = s.newRecord()
	}
	if _, err = s.table.ReadBatch(start, window, false); err != nil {
		return Slot{Kind: SlotNoSpace, Row: -1}, fmt.Errorf("failed reading insert window at row %d: %w", start, err)
	}

	below := -1
	above := size
	empty := -1
scan:
	for i, rec := range window {
		if storage.IsEmpty(rec) {
			if empty == -1 {
				empty = i
			}
			continue
		}

		k, err := storage.IntKey(rec)
		if err != nil {
			return Slot{Kind: SlotNoSpace, Row: -1}, fmt.Errorf("row %d holds a corrupt key: %w", start+i, err)
		}

		switch {
		case k == target:
			return Slot{Kind: SlotAlreadyPresent, Row: start + i}, nil
		case k > target:
			above = i
			break scan
		default:
			below = i
			// Only tombstones after the closest lower row keep the order
			empty = -1
		}
	}

	if empty == -1 {
		return Slot{Kind: SlotNoSpace, Row: -1}, nil
	}

	// An open end of the window must still respect the rows just outside it
	if below == -1 {
		if slot, ok, err := s.checkOutside(start-1, -1, target, func(k int) bool { return k < target }); err != nil || !ok {
			return slot, err
		}
	}
	if above == size {
		if slot, ok, err := s.checkOutside(start+size, 1, target, func(k int) bool { return k > target }); err != nil || !ok {
			return slot, err
		}
	}

	return Slot{Kind: SlotRow, Row: start + empty}, nil
}

// checkOutside walks from row in direction step to the nearest populated row and
// reports whether inserting target on the near side of it keeps the order
func (s *Searcher) checkOutside(row int, step int, target int, ordered func(int) bool) (Slot, bool, error) {
	rec := s.newRecord()
	for ; row >= 0 && row < s.table.Len(); row += step {
		populated, err := s.table.ReadSkippingTombstones(row, rec)
		if err != nil {
			return Slot{Kind: SlotNoSpace, Row: -1}, false, err
		}
		if !populated {
			continue
		}

		k, err := storage.IntKey(rec)
		if err != nil {
			return Slot{Kind: SlotNoSpace, Row: -1}, false, fmt.Errorf("row %d holds a corrupt key: %w", row, err)
		}

		if k == target {
			return Slot{Kind: SlotAlreadyPresent, Row: row}, false, nil
		}
		if !ordered(k) {
			log.Warnf("insert window for key %d is out of order with row %d (key %d)", target, row, k)
			return Slot{Kind: SlotNoSpace, Row: -1}, false, nil
		}
		return Slot{}, true, nil
	}

	return Slot{}, true, nil
}

// Insert writes record into the tombstone FindInsertionSlot picks for its key and
// returns the row. Nothing is written on ErrAlreadyPresent or ErrNoSpace
func (s *Searcher) Insert(record storage.Record) (int, error) {
	key := storage.Key(record)
	if k, err := storage.ParseKey(key); err != nil {
		return -1, err
	} else if k < 0 {
		return -1, fmt.Errorf("%w: keys can not be negative, got %d", storage.ErrInvalidKey, k)
	}

	slot, err := s.FindInsertionSlot(key)
	if err != nil {
		return -1, err
	}

	switch slot.Kind {
	case SlotAlreadyPresent:
		return -1, fmt.Errorf("%w: key %s at row %d", ErrAlreadyPresent, key, slot.Row)
	case SlotNoSpace:
		return -1, fmt.Errorf("%w: key %s", ErrNoSpace, key)
	}

	if err = s.table.Update(record, slot.Row); err != nil {
		return -1, fmt.Errorf("failed inserting key %s at row %d: %w", key, slot.Row, err)
	}

	return slot.Row, nil
}

// Delete turns the row into a tombstone. The slot stays in place, so the table
// does not shrink
func (s *Searcher) Delete(row int) error {
	return s.table.Update(storage.NewTombstone(s.table.NumColumns()), row)
}

// UpdateInPlace rewrites the row with record. The caller must not change the key,
// as the row would no longer be in sorted position
func (s *Searcher) UpdateInPlace(record storage.Record, row int) error {
	return s.table.Update(record, row)
}
