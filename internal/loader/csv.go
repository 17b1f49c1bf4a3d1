package loader

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/nbroyles/flatdb/internal/storage"
	log "github.com/sirupsen/logrus"
)

const fieldSeparator = ","

// CSVIterator turns the lines of a comma delimited source into records. Blank lines
// are skipped; fields are not quoted or escaped
type CSVIterator struct {
	scanner   *bufio.Scanner
	newRecord storage.Factory
	line      string
	lineNum   int
	ready     bool
}

func NewCSVIterator(reader io.Reader, newRecord storage.Factory) *CSVIterator {
	return &CSVIterator{scanner: bufio.NewScanner(reader), newRecord: newRecord}
}

func (c *CSVIterator) HasNext() bool {
	for !c.ready && c.scanner.Scan() {
		c.lineNum++
		line := strings.TrimRight(c.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		c.line = line
		c.ready = true
	}

	return c.ready
}

func (c *CSVIterator) Next() (storage.Record, error) {
	if !c.HasNext() {
		log.Panic("iterator has no next element")
	}
	c.ready = false

	rec := c.newRecord()
	if err := rec.SetValues(strings.Split(c.line, fieldSeparator)); err != nil {
		return nil, fmt.Errorf("line %d: %w", c.lineNum, err)
	}

	return rec, nil
}

func (c *CSVIterator) Err() error {
	return c.scanner.Err()
}

var _ storage.RecordIterator = &CSVIterator{}
