package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/internal/util"
)

// Config is the sidecar configuration needed to interpret a data file
type Config struct {
	// RecordCount is the number of slots ever written, tombstones included
	RecordCount  int
	ColumnWidths []int
}

// Load reads the sidecar configuration at path. Returns an error wrapping
// storage.ErrNotFound if the file does not exist
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: config file %s", storage.ErrNotFound, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed reading config file %s: %w", path, err)
	}

	codec := Codec{}
	config, err := codec.DecodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed loading config file %s: %w", path, err)
	}

	return config, nil
}

// Write replaces the sidecar configuration at path. The new contents are written to
// a temporary file in the same directory which is then renamed over any existing
// config, so readers never observe a partially written line
func Write(path string, config *Config) error {
	codec := Codec{}
	data, err := codec.EncodeConfig(config)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("could not create temporary config file: %w", err)
	}
	tmpPath := tmp.Name()

	if err = util.WriteFull(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed writing config: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed closing temporary config file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed replacing config file %s: %w", path, err)
	}

	return nil
}
