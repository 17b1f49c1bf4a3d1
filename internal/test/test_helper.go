package test

import (
	"fmt"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/table"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// KeyNameWidths is the two column layout used by most table fixtures
var KeyNameWidths = []int{4, 8}

// ConfigureDataDir creates a fresh data directory for dbName and returns the data
// dir and database name
func ConfigureDataDir(t *testing.T, dbName string) (string, string) {
	dir := t.TempDir()

	err := os.MkdirAll(path.Join(dir, dbName), 0755)
	assert.NoError(t, err)

	return dir, dbName
}

func FileExists(t *testing.T, path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	} else if err == nil {
		return true
	}

	assert.FailNow(t, fmt.Sprintf("failed attempting to check if %s exists", path))

	return false
}

// WriteSource writes a delimited source file, one line per element
func WriteSource(t *testing.T, sourcePath string, lines ...string) {
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	require.NoError(t, os.WriteFile(sourcePath, []byte(data), 0644))
}

// NewKeyNameRow returns an empty two column record
func NewKeyNameRow() storage.Record {
	return storage.NewRow([]string{"key", "name"})
}

// BuildTable creates a KeyNameWidths table in dir whose slots hold the provided
// keys in order. An empty string or "-1" writes a tombstone; names are derived from
// the key
func BuildTable(t *testing.T, dir string, keys ...string) *table.Table {
	tbl, err := table.Create(path.Join(dir, "fixture.config"), path.Join(dir, "fixture.data"),
		table.ReadWrite, KeyNameWidths)
	require.NoError(t, err)

	for _, key := range keys {
		if key == "" || key == storage.TombstoneKey {
			require.NoError(t, tbl.WriteEmptyAppend())
			continue
		}

		row := NewKeyNameRow()
		require.NoError(t, row.SetValues([]string{key, "n" + key}))
		require.NoError(t, tbl.WriteAppend(row))
	}

	return tbl
}

// SlotKeys returns the key column of every slot in the table, "-1" for tombstones
func SlotKeys(t *testing.T, tbl *table.Table) []string {
	keys := make([]string, tbl.Len())
	for i := range keys {
		row := NewKeyNameRow()
		ok, err := tbl.Read(i, row)
		require.NoError(t, err)
		require.True(t, ok)

		keys[i] = storage.Key(row)
	}

	return keys
}

// StaticIterator serves a fixed set of records, e.g. in place of a source file
type StaticIterator struct {
	rows    [][]string
	factory storage.Factory
	pointer int
}

func NewStaticIterator(factory storage.Factory, rows ...[]string) storage.RecordIterator {
	return &StaticIterator{rows: rows, factory: factory, pointer: 0}
}

func (s *StaticIterator) HasNext() bool {
	return s.pointer < len(s.rows)
}

func (s *StaticIterator) Next() (storage.Record, error) {
	if !s.HasNext() {
		log.Panic("iterator has no next element")
	}

	rec := s.factory()
	err := rec.SetValues(s.rows[s.pointer])
	s.pointer += 1

	return rec, err
}

func (s *StaticIterator) Err() error {
	return nil
}

var _ storage.RecordIterator = &StaticIterator{}
