// Package fetch keeps local cache files in step with remote FTP and HTTP
// sources, downloading only when the remote copy is newer than the cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// Protocol selects how a Source is reached.
type Protocol string

const (
	FTP  Protocol = "ftp"
	HTTP Protocol = "http"
)

// ParseProtocol accepts ftp, http and https (case-insensitive).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ftp":
		return FTP, nil
	case "http", "https":
		return HTTP, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", s)
	}
}

// Source is a remote file. For FTP, Server is a host with optional port; for
// HTTP it is the origin, e.g. https://example.org.
type Source struct {
	Name     string
	Protocol Protocol
	Server   string
	Path     string
	User     string
	Password string
}

// CacheFile is the local copy of a Source. Its modification time is the sync
// watermark.
type CacheFile struct {
	Path string
}

// ModTime returns the cache file's modification time and whether it exists.
func (c CacheFile) ModTime() (time.Time, bool) {
	info, err := os.Stat(c.Path)
	if err != nil || info.IsDir() {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

var (
	// ErrNotFound means the remote file is not listed by the server.
	ErrNotFound = errors.New("remote file not found")
	// ErrNoModTime means the server cannot report a reliable modification time.
	ErrNoModTime = errors.New("remote modification time unavailable")
)

// Entry describes a remote file.
type Entry struct {
	Name    string
	Size    uint64
	ModTime time.Time
}

// Remote is a connection to the server holding a Source.
type Remote interface {
	// Stat describes the file at p. It returns ErrNotFound when the file is
	// absent and an error wrapping ErrNoModTime (with the entry filled in as
	// far as known) when the server cannot report modification times.
	Stat(ctx context.Context, p string) (Entry, error)
	Retrieve(ctx context.Context, p string) (io.ReadCloser, error)
	Close() error
}

// DialFunc opens a Remote for src.
type DialFunc func(ctx context.Context, src Source) (Remote, error)

// LocalName derives the cache file name for a remote path. Files that are
// compressed locally but not remotely get a prefix and a .gz suffix, e.g.
// gene_history -> eg_gene_history.gz.
func LocalName(remotePath, prefix string, compress bool) string {
	base := path.Base(remotePath)
	if !compress || strings.HasSuffix(base, ".gz") {
		return base
	}
	if prefix != "" {
		base = prefix + "_" + base
	}
	return base + ".gz"
}

// Newer reports whether check exists and was modified after base. A missing
// base counts as older than any existing check file.
func Newer(check, base string) bool {
	ci, err := os.Stat(check)
	if err != nil {
		return false
	}
	bi, err := os.Stat(base)
	if err != nil {
		return true
	}
	return ci.ModTime().After(bi.ModTime())
}
