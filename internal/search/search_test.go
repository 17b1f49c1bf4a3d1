package search

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearcher(t *testing.T, keys ...string) (*Searcher, func() []string) {
	tbl := test.BuildTable(t, t.TempDir(), keys...)
	t.Cleanup(func() { _ = tbl.Close() })

	return New(tbl, test.NewKeyNameRow), func() []string { return test.SlotKeys(t, tbl) }
}

func record(t *testing.T, key string) storage.Record {
	rec := test.NewKeyNameRow()
	require.NoError(t, rec.SetValues([]string{key, "new" + key}))
	return rec
}

func TestLookup(t *testing.T) {
	s, _ := newSearcher(t, "1", "-1", "3", "-1", "5", "-1", "7", "-1", "9", "-1")

	for row, key := range []string{"1", "", "3", "", "5", "", "7", "", "9"} {
		if key == "" {
			continue
		}

		out := test.NewKeyNameRow()
		result, err := s.Lookup(key, out)
		assert.NoError(t, err)
		assert.Equal(t, Result{Found: true, Row: row}, result, key)
		assert.Equal(t, []string{key, "n" + key}, out.Values())
	}

	for _, key := range []string{"0", "2", "4", "8", "10", "-1"} {
		result, err := s.Lookup(key, test.NewKeyNameRow())
		assert.NoError(t, err)
		assert.Equal(t, Result{Found: false, Row: -1}, result, key)
	}
}

func TestLookup_LongTombstoneRuns(t *testing.T) {
	s, _ := newSearcher(t, "-1", "-1", "-1", "-1", "2", "-1", "-1", "-1", "-1", "-1", "-1", "8", "-1", "-1", "11")

	for key, row := range map[string]int{"2": 4, "8": 11, "11": 14} {
		result, err := s.Lookup(key, test.NewKeyNameRow())
		assert.NoError(t, err)
		assert.Equal(t, Result{Found: true, Row: row}, result, key)
	}

	for _, key := range []string{"1", "3", "9", "12"} {
		result, err := s.Lookup(key, test.NewKeyNameRow())
		assert.NoError(t, err)
		assert.False(t, result.Found, key)
	}
}

func TestLookup_EmptyTable(t *testing.T) {
	s, _ := newSearcher(t)

	result, err := s.Lookup("1", test.NewKeyNameRow())
	assert.NoError(t, err)
	assert.False(t, result.Found)

	s, _ = newSearcher(t, "-1", "-1", "-1")

	result, err = s.Lookup("1", test.NewKeyNameRow())
	assert.NoError(t, err)
	assert.False(t, result.Found)
}

func TestLookup_InvalidKey(t *testing.T) {
	s, _ := newSearcher(t, "1")

	_, err := s.Lookup("one", test.NewKeyNameRow())
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestLookup_RandomTombstones(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		var slots []string
		present := map[int]int{}
		key := 0
		for i := 0; i < 60; i++ {
			if rnd.Intn(3) == 0 {
				slots = append(slots, storage.TombstoneKey)
				continue
			}
			key += 1 + rnd.Intn(3)
			present[key] = len(slots)
			slots = append(slots, strconv.Itoa(key))
		}

		s, _ := newSearcher(t, slots...)
		for k := 0; k <= key+1; k++ {
			result, err := s.Lookup(strconv.Itoa(k), test.NewKeyNameRow())
			require.NoError(t, err)

			if row, ok := present[k]; ok {
				assert.Equal(t, Result{Found: true, Row: row}, result, "round %d key %d", round, k)
			} else {
				assert.False(t, result.Found, "round %d key %d", round, k)
			}
		}
	}
}

func TestFindInsertionSlot(t *testing.T) {
	s, _ := newSearcher(t, "1", "-1", "3", "-1", "5", "-1")

	slot, err := s.FindInsertionSlot("2")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotRow, Row: 1}, slot)

	slot, err = s.FindInsertionSlot("4")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotRow, Row: 3}, slot)

	// Open upper end of the table
	slot, err = s.FindInsertionSlot("6")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotRow, Row: 5}, slot)

	slot, err = s.FindInsertionSlot("3")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotAlreadyPresent, Row: 2}, slot)

	// Nothing before the first row
	slot, err = s.FindInsertionSlot("0")
	assert.NoError(t, err)
	assert.Equal(t, SlotNoSpace, slot.Kind)
}

func TestFindInsertionSlot_NoSpace(t *testing.T) {
	s, _ := newSearcher(t, "2", "4", "6", "8", "10", "12", "14", "16")

	slot, err := s.FindInsertionSlot("7")
	assert.NoError(t, err)
	assert.Equal(t, SlotNoSpace, slot.Kind)
}

func TestFindInsertionSlot_TombstoneOutsideWindow(t *testing.T) {
	s, _ := newSearcher(t, "10", "20", "30", "40", "50", "60", "70", "80", "90", "-1")

	slot, err := s.FindInsertionSlot("25")
	assert.NoError(t, err)
	assert.Equal(t, SlotNoSpace, slot.Kind)

	// Still reachable at the end
	slot, err = s.FindInsertionSlot("95")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotRow, Row: 9}, slot)
}

func TestFindInsertionSlot_OpenLowerEnd(t *testing.T) {
	s, _ := newSearcher(t, "5", "-1", "-1", "-1", "-1", "-1", "-1", "-1", "-1", "-1", "20")

	slot, err := s.FindInsertionSlot("12")
	assert.NoError(t, err)
	assert.Equal(t, Slot{Kind: SlotRow, Row: 7}, slot)
}

func TestFindInsertionSlot_EmptyTable(t *testing.T) {
	s, _ := newSearcher(t)

	slot, err := s.FindInsertionSlot("1")
	assert.NoError(t, err)
	assert.Equal(t, SlotNoSpace, slot.Kind)
}

func TestInsert(t *testing.T) {
	s, keys := newSearcher(t, "1", "-1", "3", "-1", "5", "-1")

	row, err := s.Insert(record(t, "4"))
	assert.NoError(t, err)
	assert.Equal(t, 3, row)

	assert.Equal(t, []string{"1", "-1", "3", "4", "5", "-1"}, keys())

	out := test.NewKeyNameRow()
	result, err := s.Lookup("4", out)
	assert.NoError(t, err)
	assert.Equal(t, Result{Found: true, Row: 3}, result)
	assert.Equal(t, []string{"4", "new4"}, out.Values())
}

func TestInsert_AlreadyPresentDoesNotMutate(t *testing.T) {
	s, keys := newSearcher(t, "1", "-1", "3", "-1")
	before := keys()

	_, err := s.Insert(record(t, "3"))
	assert.ErrorIs(t, err, ErrAlreadyPresent)

	assert.Equal(t, before, keys())
}

func TestInsert_NoSpaceDoesNotMutate(t *testing.T) {
	s, keys := newSearcher(t, "2", "4", "6", "8", "10", "12", "14", "16", "-1")
	before := keys()

	_, err := s.Insert(record(t, "7"))
	assert.ErrorIs(t, err, ErrNoSpace)

	assert.Equal(t, before, keys())
}

func TestInsert_InvalidKey(t *testing.T) {
	s, _ := newSearcher(t, "1", "-1")

	_, err := s.Insert(record(t, "-5"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	_, err = s.Insert(record(t, "abc"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestDeleteThenInsert(t *testing.T) {
	s, keys := newSearcher(t, "10", "20", "30", "40", "50", "60")

	result, err := s.Lookup("30", test.NewKeyNameRow())
	require.NoError(t, err)
	require.True(t, result.Found)

	assert.NoError(t, s.Delete(result.Row))
	assert.Equal(t, []string{"10", "20", "-1", "40", "50", "60"}, keys())

	result, err = s.Lookup("30", test.NewKeyNameRow())
	assert.NoError(t, err)
	assert.False(t, result.Found)

	row, err := s.Insert(record(t, "35"))
	assert.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.Equal(t, []string{"10", "20", "35", "40", "50", "60"}, keys())
}

func TestDelete_OutOfBounds(t *testing.T) {
	s, _ := newSearcher(t, "1", "-1")

	assert.ErrorIs(t, s.Delete(2), storage.ErrRowOutOfBounds)
	assert.ErrorIs(t, s.Delete(-1), storage.ErrRowOutOfBounds)
}

func TestUpdateInPlace(t *testing.T) {
	s, keys := newSearcher(t, "1", "-1", "3")

	assert.NoError(t, s.UpdateInPlace(record(t, "3"), 2))
	assert.Equal(t, []string{"1", "-1", "3"}, keys())

	out := test.NewKeyNameRow()
	result, err := s.Lookup("3", out)
	assert.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, "new3", out.Values()[1])
}
