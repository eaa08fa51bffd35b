// Package credfile reads and writes the credentials file written by
// `tbgwctl login`. The file holds the appliance address and the Basic-Auth
// credentials so they need not live in config.toml.
package credfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// File is the on-disk format.
type File struct {
	BaseURL  string            `json:"base_url,omitempty"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	SavedAt  time.Time         `json:"saved_at"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Load reads a credentials file. Returns (nil, nil) if the file does not
// exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("credfile: decoding %s: %w", path, err)
	}

	if f.Username == "" {
		return nil, fmt.Errorf("credfile: %s has no username (run tbgwctl login)", path)
	}

	return &f, nil
}

// Save writes f atomically (write-to-temp + rename) with 0600 permissions.
// SavedAt is stamped if zero. Never logs the password.
func Save(path string, f *File) error {
	out := *f
	if out.SavedAt.IsZero() {
		out.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("credfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("credfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the credentials file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credfile: removing %s: %w", path, err)
	}

	return nil
}

// MergeMeta loads the file, merges meta into it (new keys overwrite) and
// saves it again.
func MergeMeta(path string, meta map[string]string) error {
	f, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading credentials for metadata update: %w", err)
	}

	if f == nil {
		return fmt.Errorf("no credentials file at %s", path)
	}

	if f.Meta == nil {
		f.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(f.Meta, meta)

	return Save(path, f)
}
