package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/table"
	"github.com/nbroyles/flatdb/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueueSize = 100
	DefaultTimeout   = 500 * time.Millisecond
)

// ErrIncomplete is returned when the number of records read from the source does
// not match the number written, or nothing was loaded at all
var ErrIncomplete = errors.New("bulk load incomplete")

type Options struct {
	// QueueSize is the capacity of the queue between the reading and writing workers
	QueueSize int
	// Timeout bounds every queue offer and take. Exceeding it aborts the load
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{QueueSize: DefaultQueueSize, Timeout: DefaultTimeout}
}

// Result holds the number of records the producer read from the source and the
// number the consumer wrote to the table
type Result struct {
	Read    int
	Written int
}

// Sink receives records from the consumer. *table.Table is the production sink
type Sink interface {
	WriteAppend(record storage.Record) error
	WriteEmptyAppend() error
}

// Loader rebuilds a table from a delimited source file. The previous data file is
// kept as a backup until the new one is known to be complete
type Loader struct {
	sourcePath   string
	configPath   string
	dataPath     string
	columnWidths []int
	newRecord    storage.Factory
	opts         Options
}

func New(sourcePath, configPath, dataPath string, columnWidths []int, newRecord storage.Factory, opts Options) *Loader {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Loader{
		sourcePath:   sourcePath,
		configPath:   configPath,
		dataPath:     dataPath,
		columnWidths: columnWidths,
		newRecord:    newRecord,
		opts:         opts,
	}
}

// Load replaces the data file with the contents of the source. Every record is
// followed by a tombstone slot so later inserts have room to land.
//
// On failure the backup of the previous data file is left in place and the new
// data file must be treated as unusable
func (l *Loader) Load(ctx context.Context) (Result, error) {
	return l.load(ctx, func(tbl *table.Table) Sink { return tbl })
}

// load is Load with the consumer writing through the Sink sinkFor wraps around
// the new table
func (l *Loader) load(ctx context.Context, sinkFor func(*table.Table) Sink) (Result, error) {
	source, err := os.Open(l.sourcePath)
	if os.IsNotExist(err) {
		return Result{}, fmt.Errorf("%w: source file %s", storage.ErrNotFound, l.sourcePath)
	} else if err != nil {
		return Result{}, fmt.Errorf("could not open source file %s: %w", l.sourcePath, err)
	}
	defer source.Close()

	log.Infof("loading %s into %s", l.sourcePath, l.dataPath)

	backup, moved, err := util.MoveToBackup(l.dataPath)
	if err != nil {
		return Result{}, err
	} else if !moved {
		log.Infof("no existing data file %s to back up", l.dataPath)
	}

	tbl, err := table.Create(l.configPath, l.dataPath, table.ReadWrite, l.columnWidths)
	if err != nil {
		return Result{}, fmt.Errorf("could not create table for bulk load: %w", err)
	}

	result, runErr := l.run(ctx, NewCSVIterator(source, l.newRecord), sinkFor(tbl))
	size := tbl.Size()

	if err = tbl.WriteConfiguration(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err = tbl.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr == nil && (result.Read != result.Written || result.Written == 0) {
		runErr = ErrIncomplete
	}

	if runErr != nil {
		if moved {
			log.Errorf("bulk load of %s failed (read %d, wrote %d), previous data kept at %s: %v",
				l.sourcePath, result.Read, result.Written, backup, runErr)
		} else {
			log.Errorf("bulk load of %s failed (read %d, wrote %d): %v",
				l.sourcePath, result.Read, result.Written, runErr)
		}
		return result, fmt.Errorf("bulk load of %s failed (read %d, wrote %d): %w",
			l.sourcePath, result.Read, result.Written, runErr)
	}

	if moved {
		log.Infof("deleting backup %s", backup)
		if err = util.RemoveIfExists(backup); err != nil {
			return result, err
		}
	}

	log.Infof("loaded %s records (%s) into %s", humanize.Comma(int64(result.Written)),
		humanize.Bytes(uint64(size)), l.dataPath)

	return result, nil
}

// run drives one producer and one consumer over a bounded queue. A fatal error in
// either cancels the other
func (l *Loader) run(ctx context.Context, iter storage.RecordIterator, sink Sink) (Result, error) {
	queue := make(chan storage.Record, l.opts.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	var result Result
	g.Go(func() error {
		n, err := l.produce(gctx, iter, queue)
		result.Read = n
		return err
	})
	g.Go(func() error {
		n, err := l.consume(gctx, queue, sink)
		result.Written = n
		return err
	})

	err := g.Wait()
	return result, err
}

// produce offers every source record to the queue followed by an empty record
// marking the end of the stream
func (l *Loader) produce(ctx context.Context, iter storage.RecordIterator, queue chan<- storage.Record) (int, error) {
	read := 0
	prevKey, sorted := -1, true
	for iter.HasNext() {
		rec, err := iter.Next()
		if err != nil {
			return read, fmt.Errorf("failed reading source record: %w", err)
		}

		if storage.IsEmpty(rec) {
			return read, fmt.Errorf("%w: source record %d has an empty key", storage.ErrInvalidKey, read+1)
		}

		if key, err := storage.IntKey(rec); err == nil && sorted {
			if key <= prevKey {
				log.Warnf("source key %d follows %d; rows after it are not in key order and lookups may miss them",
					key, prevKey)
				sorted = false
			}
			prevKey = key
		}

		if err = l.offer(ctx, queue, rec); err != nil {
			return read, fmt.Errorf("producer aborted: %w", err)
		}
		read++
	}

	if err := iter.Err(); err != nil {
		return read, fmt.Errorf("failed reading source: %w", err)
	}

	if err := l.offer(ctx, queue, l.newRecord()); err != nil {
		return read, fmt.Errorf("producer aborted sending end of stream: %w", err)
	}

	return read, nil
}

// consume writes records from the queue, each followed by a tombstone, until the
// end of stream record arrives
func (l *Loader) consume(ctx context.Context, queue <-chan storage.Record, sink Sink) (int, error) {
	written := 0
	for {
		rec, err := l.take(ctx, queue)
		if err != nil {
			return written, fmt.Errorf("consumer aborted: %w", err)
		}

		if storage.IsEmpty(rec) {
			return written, nil
		}

		if err = sink.WriteAppend(rec); err != nil {
			return written, fmt.Errorf("failed writing record %d: %w", written+1, err)
		}
		if err = sink.WriteEmptyAppend(); err != nil {
			return written, fmt.Errorf("failed writing gap after record %d: %w", written+1, err)
		}
		written++
	}
}

func (l *Loader) offer(ctx context.Context, queue chan<- storage.Record, rec storage.Record) error {
	// Another worker already failed
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(l.opts.Timeout)
	defer timer.Stop()

	select {
	case queue <- rec:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: blocked offering to queue for %s", storage.ErrTimeout, l.opts.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) take(ctx context.Context, queue <-chan storage.Record) (storage.Record, error) {
	// Another worker already failed
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(l.opts.Timeout)
	defer timer.Stop()

	select {
	case rec := <-queue:
		return rec, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: queue empty for %s", storage.ErrTimeout, l.opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
