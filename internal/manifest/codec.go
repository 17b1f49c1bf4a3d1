package manifest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Codec encodes the sidecar configuration as a single line of space separated
// integers: recordCount columnWidth_0 ... columnWidth_n-1
type Codec struct{}

func (c *Codec) EncodeConfig(config *Config) ([]byte, error) {
	if len(config.ColumnWidths) == 0 {
		return nil, fmt.Errorf("failed to encode config: no column widths")
	}

	buf := bytes.Buffer{}
	buf.WriteString(strconv.Itoa(config.RecordCount))
	for _, width := range config.ColumnWidths {
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(width))
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func (c *Codec) DecodeConfig(data []byte) (*Config, error) {
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	values := strings.Fields(line)
	if len(values) < 2 {
		return nil, fmt.Errorf("failed to decode config: expected record count and at least one "+
			"column width, got %d values", len(values))
	}

	count, err := strconv.Atoi(values[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode record count: %w", err)
	} else if count < 0 {
		return nil, fmt.Errorf("failed to decode record count: negative count %d", count)
	}

	widths := make([]int, len(values)-1)
	// First value is the record count, so widths start at 1
	for i := 1; i < len(values); i++ {
		width, err := strconv.Atoi(values[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode width of column %d: %w", i-1, err)
		} else if width <= 0 {
			return nil, fmt.Errorf("failed to decode width of column %d: width must be positive, got %d",
				i-1, width)
		}
		widths[i-1] = width
	}

	return &Config{RecordCount: count, ColumnWidths: widths}, nil
}
