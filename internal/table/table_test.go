package table

import (
	"os"
	"path"
	"testing"

	"github.com/nbroyles/flatdb/internal/manifest"
	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWidths = []int{3, 5}

func newRow(values ...string) *storage.Row {
	row := storage.NewRow([]string{"id", "name"})
	if len(values) > 0 {
		if err := row.SetValues(values); err != nil {
			panic(err)
		}
	}
	return row
}

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return path.Join(dir, "test.config"), path.Join(dir, "test.data")
}

// createTable builds a table from key/name pairs; a key of "-1" writes a tombstone
func createTable(t *testing.T, rows ...[2]string) (*Table, string, string) {
	configPath, dataPath := paths(t)

	tbl, err := Create(configPath, dataPath, ReadWrite, testWidths)
	require.NoError(t, err)

	for _, r := range rows {
		if r[0] == storage.TombstoneKey {
			require.NoError(t, tbl.WriteEmptyAppend())
		} else {
			require.NoError(t, tbl.WriteAppend(newRow(r[0], r[1])))
		}
	}

	return tbl, configPath, dataPath
}

func TestCreate_WriteAppend(t *testing.T) {
	tbl, _, dataPath := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""}, [2]string{"2", "bar"})
	defer tbl.Close()

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 11, tbl.RecordSize())
	assert.Equal(t, int64(33), tbl.Size())

	data, err := os.ReadFile(dataPath)
	assert.NoError(t, err)
	assert.Equal(t, "  1   foo \n -1       \n  2   bar \n", string(data))
}

func TestCreate_InvalidWidths(t *testing.T) {
	configPath, dataPath := paths(t)

	_, err := Create(configPath, dataPath, ReadWrite, nil)
	assert.Error(t, err)

	_, err = Create(configPath, dataPath, ReadWrite, []int{3, 0})
	assert.Error(t, err)
}

func TestOpen_NotExist(t *testing.T) {
	configPath, dataPath := paths(t)

	_, err := Open(configPath, dataPath, ReadWrite)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Config present, data missing
	assert.NoError(t, manifest.Write(configPath, &manifest.Config{RecordCount: 0, ColumnWidths: testWidths}))
	_, err = Open(configPath, dataPath, ReadOnly)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWriteConfiguration_Reopen(t *testing.T) {
	tbl, configPath, dataPath := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""})

	assert.NoError(t, tbl.WriteConfiguration())
	assert.NoError(t, tbl.Close())

	reopened, err := Open(configPath, dataPath, ReadOnly)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, testWidths, reopened.ColumnWidths())

	out := newRow()
	ok, err := reopened.Read(0, out)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"1", "foo"}, out.Values())
}

func TestClose_DoesNotWriteConfiguration(t *testing.T) {
	tbl, configPath, _ := createTable(t, [2]string{"1", "foo"})

	assert.NoError(t, tbl.Close())

	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, tbl.Close(), storage.ErrClosed)
}

func TestRead(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""}, [2]string{"2", "bar"})
	defer tbl.Close()

	out := newRow()
	ok, err := tbl.Read(2, out)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"2", "bar"}, out.Values())

	// Tombstones read back as empty records
	ok, err = tbl.Read(1, out)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, storage.IsEmpty(out))

	for _, row := range []int{-1, 3, 100} {
		ok, err = tbl.Read(row, out)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestReadSkippingTombstones(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""})
	defer tbl.Close()

	out := newRow()
	ok, err := tbl.ReadSkippingTombstones(0, out)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", storage.Key(out))

	ok, err = tbl.ReadSkippingTombstones(1, out)
	assert.NoError(t, err)
	assert.False(t, ok)
	// Untouched on tombstone
	assert.Equal(t, "1", storage.Key(out))

	_, err = tbl.ReadSkippingTombstones(2, out)
	assert.ErrorIs(t, err, storage.ErrRowOutOfBounds)

	_, err = tbl.ReadSkippingTombstones(-1, out)
	assert.ErrorIs(t, err, storage.ErrRowOutOfBounds)
}

func TestWrite(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""})
	defer tbl.Close()

	// Overwriting an existing slot does not add a slot
	assert.NoError(t, tbl.Write(newRow("2", "bar"), 1))
	assert.Equal(t, 2, tbl.Len())

	// Writing just past the end does
	assert.NoError(t, tbl.Write(newRow("3", "baz"), 2))
	assert.Equal(t, 3, tbl.Len())

	assert.ErrorIs(t, tbl.Write(newRow("5", "qux"), 4), storage.ErrRowOutOfBounds)
	assert.ErrorIs(t, tbl.Write(newRow("5", "qux"), -1), storage.ErrRowOutOfBounds)

	out := newRow()
	_, err := tbl.Read(1, out)
	assert.NoError(t, err)
	assert.Equal(t, []string{"2", "bar"}, out.Values())
}

func TestUpdate(t *testing.T) {
	tbl, _, dataPath := createTable(t, [2]string{"1", "foo"}, [2]string{"-1", ""}, [2]string{"3", "baz"})
	defer tbl.Close()

	assert.NoError(t, tbl.Update(newRow("2", "bar"), 1))
	assert.Equal(t, 3, tbl.Len())

	assert.ErrorIs(t, tbl.Update(newRow("4", "x"), 3), storage.ErrRowOutOfBounds)

	data, err := os.ReadFile(dataPath)
	assert.NoError(t, err)
	assert.Equal(t, "  1   foo \n  2   bar \n  3   baz \n", string(data))
}

func TestUpdate_ShapeMismatch(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"})
	defer tbl.Close()

	err := tbl.Update(storage.NewPassenger(), 0)
	assert.ErrorIs(t, err, storage.ErrShapeMismatch)
}

func TestWrite_RestoresOffset(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"}, [2]string{"2", "bar"})
	defer tbl.Close()

	before, err := tbl.file.Seek(0, 1)
	assert.NoError(t, err)

	assert.NoError(t, tbl.Update(newRow("1", "zed"), 0))
	assert.NoError(t, tbl.WriteEmptyAppend())

	after, err := tbl.file.Seek(0, 1)
	assert.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadOnly(t *testing.T) {
	tbl, configPath, dataPath := createTable(t, [2]string{"1", "foo"})
	assert.NoError(t, tbl.WriteConfiguration())
	assert.NoError(t, tbl.Close())

	ro, err := Open(configPath, dataPath, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.Update(newRow("1", "bar"), 0), ErrReadOnly)
	assert.ErrorIs(t, ro.WriteAppend(newRow("2", "bar")), ErrReadOnly)
	assert.ErrorIs(t, ro.WriteEmptyAppend(), ErrReadOnly)
}

func TestReadBatch(t *testing.T) {
	tbl, _, _ := createTable(t,
		[2]string{"1", "a"}, [2]string{"-1", ""},
		[2]string{"2", "b"}, [2]string{"-1", ""},
		[2]string{"3", "c"}, [2]string{"-1", ""})
	defer tbl.Close()

	out := []storage.Record{newRow(), newRow(), newRow()}
	n, err := tbl.ReadBatch(0, out, false)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "1", storage.Key(out[0]))
	assert.True(t, storage.IsEmpty(out[1]))
	assert.Equal(t, "2", storage.Key(out[2]))

	// Skipping tombstones reads past the window until full
	out = []storage.Record{newRow(), newRow(), newRow()}
	n, err = tbl.ReadBatch(0, out, true)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "1", storage.Key(out[0]))
	assert.Equal(t, "2", storage.Key(out[1]))
	assert.Equal(t, "3", storage.Key(out[2]))

	// Stops at end of table
	out = []storage.Record{newRow(), newRow(), newRow()}
	n, err = tbl.ReadBatch(3, out, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	// Window reaching exactly the end is allowed
	n, err = tbl.ReadBatch(3, out, false)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = tbl.ReadBatch(4, out, false)
	assert.ErrorIs(t, err, storage.ErrRowOutOfBounds)

	_, err = tbl.ReadBatch(-1, out, false)
	assert.ErrorIs(t, err, storage.ErrRowOutOfBounds)
}

func TestFindNext(t *testing.T) {
	tbl, _, _ := createTable(t,
		[2]string{"1", "alpha"}, [2]string{"2", "beta"}, [2]string{"3", "gamma"})
	defer tbl.Close()

	out := newRow()
	row, found, err := tbl.FindNext(1, 1, "alpha", out)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, row)
	assert.Equal(t, "1", storage.Key(out))

	// Desired values are compared as they'd be stored
	row, found, err = tbl.FindNext(0, 1, "gammaray", out)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, row)

	_, found, err = tbl.FindNext(0, 1, "delta", out)
	assert.NoError(t, err)
	assert.False(t, found)

	_, _, err = tbl.FindNext(0, 2, "delta", out)
	assert.ErrorIs(t, err, storage.ErrShapeMismatch)
}

func TestFindNext_StopsAtEmpty(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "alpha"}, [2]string{"-1", ""}, [2]string{"3", "gamma"})
	defer tbl.Close()

	_, found, err := tbl.FindNext(0, 1, "gamma", newRow())
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestFindNextSkippingTombstones(t *testing.T) {
	tbl, _, _ := createTable(t,
		[2]string{"1", "alpha"}, [2]string{"-1", ""}, [2]string{"3", "gamma"}, [2]string{"-1", ""})
	defer tbl.Close()

	out := newRow()
	row, found, err := tbl.FindNextSkippingTombstones(0, 1, "gamma", out)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, row)
	assert.Equal(t, "3", storage.Key(out))

	// Wraps past the trailing tombstone back to the first row
	row, found, err = tbl.FindNextSkippingTombstones(3, 1, "alpha", out)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, row)

	_, found, err = tbl.FindNextSkippingTombstones(0, 1, "delta", out)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestFindNextEmpty(t *testing.T) {
	tbl, _, _ := createTable(t,
		[2]string{"-1", ""}, [2]string{"2", "b"}, [2]string{"3", "c"}, [2]string{"-1", ""})
	defer tbl.Close()

	out := newRow()
	row, found, err := tbl.FindNextEmpty(1, out, true)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, row)
	assert.Equal(t, "3", storage.Key(out))

	row, found, err = tbl.FindNextEmpty(2, out, false)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, row)
	assert.Equal(t, "2", storage.Key(out))

	tbl2, _, _ := createTable(t, [2]string{"1", "a"}, [2]string{"2", "b"})
	defer tbl2.Close()

	_, found, err = tbl2.FindNextEmpty(0, out, true)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestClosedTable(t *testing.T) {
	tbl, _, _ := createTable(t, [2]string{"1", "foo"})
	assert.NoError(t, tbl.Close())

	_, err := tbl.Read(0, newRow())
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, tbl.WriteAppend(newRow("2", "bar")), storage.ErrClosed)
}
