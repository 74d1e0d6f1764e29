// Package storage gives read access to the inbox drop folder.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// MaxFileSize is the largest inbox file Read accepts.
const MaxFileSize = 1 << 20

// ErrTooLarge is returned by Read for files above MaxFileSize.
var ErrTooLarge = errors.New("storage: file exceeds size limit")

// File describes one ingestible file in the inbox.
type File struct {
	Path      string // relative to the inbox root, slash-separated
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for inbox file operations.
type Provider interface {
	// Root returns the absolute inbox directory.
	Root() string
	// List returns every ingestible file under dir (relative to the root).
	List(dir string) ([]File, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
}

// Ingestible reports whether the inbox picks up a file with this name.
// Hidden files (editor swap files, partial uploads) are ignored.
func Ingestible(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
