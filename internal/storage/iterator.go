package storage

// RecordIterator iterates over records coming from an external source, e.g. the
// lines of a delimited file. Not threadsafe; a single producer drives it.
type RecordIterator interface {
	// Returns true if there's another record available in the iterator
	HasNext() bool

	// Returns the next record in the iterator
	Next() (Record, error)

	// Returns the first error encountered reading the underlying source
	Err() error
}
