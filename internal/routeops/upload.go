package routeops

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = errors.New("routeops: file exceeds the upload limit")

// ReadUpload reads a file for upload. A positive limit rejects larger files
// before they are read.
func ReadUpload(path string, limit int64) ([]byte, error) {
	if limit > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		if err := checkSize(path, info.Size(), limit); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}

func checkSize(name string, size, limit int64) error {
	if limit <= 0 || size <= limit {
		return nil
	}

	return fmt.Errorf("%w: %s is %s, limit is %s", ErrFileTooLarge, name,
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
}
