package util

import (
	"fmt"
	"io"
	"os"
)

// BackupSuffix is appended to a data file's name while it is being rebuilt
const BackupSuffix = "-backup"

// WriteFull writes all of data to out, failing on short writes
func WriteFull(out io.Writer, data []byte) error {
	if n, err := out.Write(data); err != nil {
		return fmt.Errorf("failure writing to disk: %w", err)
	} else if n != len(data) {
		return fmt.Errorf("failed to write all bytes to disk. n=%d, expected=%d", n, len(data))
	}

	return nil
}

// Exists checks if a file or directory exists at path
func Exists(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failure checking for %s existence: %w", path, err)
	}

	return true, nil
}

// MoveToBackup renames the file at path to path + BackupSuffix, replacing any older
// backup. Returns false if there was no file at path to move
func MoveToBackup(path string) (string, bool, error) {
	backup := path + BackupSuffix
	if err := os.Rename(path, backup); os.IsNotExist(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("could not back up %s: %w", path, err)
	}

	return backup, true, nil
}

// RemoveIfExists removes the file at path, ignoring its absence
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove %s: %w", path, err)
	}

	return nil
}
