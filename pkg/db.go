package pkg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/nbroyles/flatdb/internal/config"
	"github.com/nbroyles/flatdb/internal/loader"
	"github.com/nbroyles/flatdb/internal/search"
	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/table"
	"github.com/nbroyles/flatdb/internal/util"
	log "github.com/sirupsen/logrus"
)

// Single user, single goroutine. A DB must not be shared without external locking

const (
	lockFile = "__DB_LOCK__"

	sourceExt = ".csv"
	dataExt   = ".data"
	configExt = ".config"
)

// DB is a session over one named fixed-record database. A database lives in
// <dataDir>/<name>/ as a data file and its sidecar config. At most one table handle
// is active per DB at a time
type DB struct {
	name      string
	dataDir   string
	cfg       *config.Config
	newRecord storage.Factory

	table    *table.Table
	searcher *search.Searcher
}

// New returns a closed session for database name. Call Create or Open before use
func New(name string, cfg *config.Config) *DB {
	if cfg == nil {
		cfg = config.Default()
	}

	return &DB{
		name:      name,
		dataDir:   cfg.DataDir,
		cfg:       cfg,
		newRecord: recordFactory(cfg.ColumnWidths),
	}
}

// recordFactory picks the passenger record for a seven column layout and generic
// rows otherwise
func recordFactory(widths []int) storage.Factory {
	if len(widths) == len(storage.PassengerColumnWidths) {
		return storage.NewPassengerRecord
	}
	return storage.RowFactory(make([]string, len(widths)))
}

func (d *DB) dbPath() string {
	return path.Join(d.dataDir, d.name)
}

func (d *DB) dataPath() string {
	return path.Join(d.dbPath(), d.name+dataExt)
}

func (d *DB) configPath() string {
	return path.Join(d.dbPath(), d.name+configExt)
}

// SourcePath is where Create looks for the source file when given no explicit path
func (d *DB) SourcePath() string {
	return path.Join(d.dataDir, d.name+sourceExt)
}

// Name returns the database name
func (d *DB) Name() string {
	return d.name
}

// IsOpen reports whether a table handle is active
func (d *DB) IsOpen() bool {
	return d.table != nil
}

// NewRecord returns an empty record matching the database's column layout. Before
// the database is opened this is the configured layout
func (d *DB) NewRecord() storage.Record {
	return d.newRecord()
}

// Create bulk loads sourcePath into the database, replacing any existing data, and
// leaves the database open. An empty sourcePath loads SourcePath()
func (d *DB) Create(ctx context.Context, sourcePath string) (loader.Result, error) {
	if d.IsOpen() {
		log.Warnf("refusing to create %s, it is already open", d.name)
		return loader.Result{}, fmt.Errorf("could not create %s: %w", d.name, storage.ErrAlreadyOpen)
	}

	if sourcePath == "" {
		sourcePath = d.SourcePath()
	}

	if err := os.MkdirAll(d.dbPath(), 0755); err != nil {
		return loader.Result{}, fmt.Errorf("failed creating data directory for database %s: %w", d.name, err)
	}

	if err := lock(d.name, d.dataDir); err != nil {
		return loader.Result{}, fmt.Errorf("could not lock database: %w", err)
	}

	ld := loader.New(sourcePath, d.configPath(), d.dataPath(), d.cfg.ColumnWidths, d.newRecord,
		d.cfg.LoaderOptions())
	result, err := ld.Load(ctx)
	if err != nil {
		d.releaseLock()
		return result, err
	}

	if err = d.openTable(); err != nil {
		d.releaseLock()
		return result, err
	}

	return result, nil
}

// Open opens an existing database for reading and writing
func (d *DB) Open() error {
	if d.IsOpen() {
		log.Warnf("refusing to open %s, it is already open", d.name)
		return fmt.Errorf("could not open %s: %w", d.name, storage.ErrAlreadyOpen)
	}

	if dbExists, err := Exists(d.name, d.dataDir); err != nil {
		return fmt.Errorf("failed opening database %s: %w", d.name, err)
	} else if !dbExists {
		return fmt.Errorf("failed opening database %s. does not exist: %w", d.name, storage.ErrNotFound)
	}

	if err := lock(d.name, d.dataDir); err != nil {
		return fmt.Errorf("could not lock database: %w", err)
	}

	if err := d.openTable(); err != nil {
		d.releaseLock()
		return err
	}

	return nil
}

func (d *DB) openTable() error {
	tbl, err := table.Open(d.configPath(), d.dataPath(), table.ReadWrite)
	if err != nil {
		return fmt.Errorf("failed opening database %s: %w", d.name, err)
	}

	// The sidecar layout wins over the configured one
	d.newRecord = recordFactory(tbl.ColumnWidths())
	d.table = tbl
	d.searcher = search.New(tbl, d.newRecord)

	log.Infof("opened %s: %s slots, %s on disk", d.name, humanize.Comma(int64(tbl.Len())),
		humanize.Bytes(uint64(tbl.Size())))

	return nil
}

// Close persists the record count, releases the data file and the lock
func (d *DB) Close() error {
	if !d.IsOpen() {
		return fmt.Errorf("could not close %s: %w", d.name, storage.ErrClosed)
	}

	err := d.table.WriteConfiguration()
	if closeErr := d.table.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	d.table = nil
	d.searcher = nil

	if unlockErr := d.unlock(); unlockErr != nil {
		err = errors.Join(err, fmt.Errorf("could not unlock database: %w", unlockErr))
	}

	return err
}

// Len returns the number of slots, tombstones included
func (d *DB) Len() (int, error) {
	if !d.IsOpen() {
		return 0, storage.ErrClosed
	}
	return d.table.Len(), nil
}

// ReadRow returns the record in the given slot. The record is empty for a tombstone
func (d *DB) ReadRow(row int) (storage.Record, error) {
	if !d.IsOpen() {
		return nil, storage.ErrClosed
	}

	rec := d.newRecord()
	if ok, err := d.table.Read(row, rec); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: row %d of %d", storage.ErrRowOutOfBounds, row, d.table.Len())
	}

	return rec, nil
}

// Find returns the record with key and its row, or a nil record if no populated
// row has the key
func (d *DB) Find(key string) (storage.Record, int, error) {
	if !d.IsOpen() {
		return nil, -1, storage.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, -1, err
	}

	rec := d.newRecord()
	result, err := d.searcher.Lookup(key, rec)
	if err != nil {
		return nil, -1, err
	} else if !result.Found {
		return nil, -1, nil
	}

	return rec, result.Row, nil
}

// FindByColumn scans every populated row, starting from the first, for a record
// whose column equals value
func (d *DB) FindByColumn(column int, value string) (storage.Record, int, error) {
	if !d.IsOpen() {
		return nil, -1, storage.ErrClosed
	}
	if d.table.Len() == 0 {
		return nil, -1, nil
	}

	rec := d.newRecord()
	row, found, err := d.table.FindNextSkippingTombstones(0, column, value, rec)
	if err != nil || !found {
		return nil, -1, err
	}

	return rec, row, nil
}

// NextFree returns the first tombstone row at or after start
func (d *DB) NextFree(start int) (int, bool, error) {
	if !d.IsOpen() {
		return -1, false, storage.ErrClosed
	}

	return d.table.FindNextEmpty(start, d.newRecord(), true)
}

// Report returns up to the configured report size of populated records, starting
// from the first row
func (d *DB) Report() ([]storage.Record, error) {
	if !d.IsOpen() {
		return nil, storage.ErrClosed
	}

	size := d.cfg.ReportSize
	if size > d.table.Len() {
		size = d.table.Len()
	}

	out := make([]storage.Record, size)
	for i := range out {
		out[i] = d.newRecord()
	}

	n, err := d.table.ReadBatch(0, out, true)
	if err != nil {
		return nil, fmt.Errorf("failed building report for %s: %w", d.name, err)
	}

	return out[:n], nil
}

// Add inserts a new record built from values and returns its row. Fails with
// search.ErrAlreadyPresent or search.ErrNoSpace without writing anything
func (d *DB) Add(values []string) (int, error) {
	if !d.IsOpen() {
		return -1, storage.ErrClosed
	}

	rec := d.newRecord()
	if err := rec.SetValues(values); err != nil {
		return -1, err
	}
	if err := validateKey(storage.Key(rec)); err != nil {
		return -1, err
	}

	row, err := d.searcher.Insert(rec)
	if err != nil {
		return -1, err
	}

	log.Debugf("added key %s to %s at row %d", storage.Key(rec), d.name, row)

	return row, nil
}

// Update replaces the record with key by values. The key column of values must
// match key. Returns storage.ErrNotFound if the key is absent
func (d *DB) Update(key string, values []string) (int, error) {
	rec, row, err := d.Find(key)
	if err != nil {
		return -1, err
	} else if rec == nil {
		return -1, fmt.Errorf("%w: key %s", storage.ErrNotFound, key)
	}

	if err = rec.SetValues(values); err != nil {
		return -1, err
	}
	if storage.Key(rec) != key {
		return -1, fmt.Errorf("%w: update of key %s can not change it to %s",
			storage.ErrInvalidKey, key, storage.Key(rec))
	}

	if err = d.searcher.UpdateInPlace(rec, row); err != nil {
		return -1, err
	}

	return row, nil
}

// Delete tombstones the record with key and returns its former row. Returns
// storage.ErrNotFound if the key is absent
func (d *DB) Delete(key string) (int, error) {
	rec, row, err := d.Find(key)
	if err != nil {
		return -1, err
	} else if rec == nil {
		return -1, fmt.Errorf("%w: key %s", storage.ErrNotFound, key)
	}

	if err = d.searcher.Delete(row); err != nil {
		return -1, err
	}

	log.Debugf("deleted key %s from %s at row %d", key, d.name, row)

	return row, nil
}

func validateKey(key string) error {
	k, err := storage.ParseKey(key)
	if err != nil {
		return err
	} else if k < 0 {
		return fmt.Errorf("%w: keys can not be negative, got %d", storage.ErrInvalidKey, k)
	}
	return nil
}

// Exists checks if database name already exists in dataDir
func Exists(name string, dataDir string) (bool, error) {
	dbExists, err := util.Exists(path.Join(dataDir, name, name+configExt))
	if err != nil {
		return false, fmt.Errorf("failure checking to see if database already exists: %w", err)
	}
	return dbExists, nil
}

// lock takes the database's lock file for this process. Taking a lock this process
// already holds succeeds
func lock(name string, dataDir string) error {
	pid := os.Getpid()
	lockPath := path.Join(dataDir, name, lockFile)

	held, err := os.Open(lockPath)
	if os.IsNotExist(err) {
		f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if os.IsExist(err) {
			return fmt.Errorf("cannot lock database. already locked by another process")
		} else if err != nil {
			return fmt.Errorf("failure attempting to lock database: %w", err)
		}
		defer f.Close()

		if err = util.WriteFull(f, []byte(strconv.Itoa(pid))); err != nil {
			return fmt.Errorf("failure writing owner pid to lock file: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("failure attempting to lock database: %w", err)
	}
	defer held.Close()

	scanner := bufio.NewScanner(held)
	scanner.Scan()
	lockPid, err := strconv.Atoi(scanner.Text())
	if err != nil {
		return fmt.Errorf("failed attempting to read lockfile: %w", err)
	}

	if lockPid != pid {
		return fmt.Errorf("cannot lock database. already locked by another process (%d)", lockPid)
	}

	return nil
}

func (d *DB) unlock() error {
	return util.RemoveIfExists(path.Join(d.dbPath(), lockFile))
}

func (d *DB) releaseLock() {
	if err := d.unlock(); err != nil {
		log.Warnf("could not release lock on %s: %v", d.name, err)
	}
}
