package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/systemshift/bioref/internal/logger"
)

// Result messages.
const (
	MsgNotNewer   = "not newer"
	MsgCacheFresh = "cache fresh, remote mod-time unknown"
	MsgMissing    = "missing"
	MsgDownloaded = "downloaded"
)

// dateLayout compares modification times at day granularity, as the
// YYYYMMDD prefix of an MLSD modify fact.
const dateLayout = "20060102"

// Options tune a single fetch.
type Options struct {
	// MaxAgeDays is how old the cache may get before it is refreshed when
	// the remote modification time is unknown.
	MaxAgeDays int
	// Force downloads even when the cache looks current.
	Force bool
	// Compress gzips the file as it is written to the cache.
	Compress bool
}

// Result reports what Fetch did. Err is set for transfer failures only;
// skipped and missing files are not errors.
type Result struct {
	Downloaded bool
	Message    string
	Err        error
}

// Fetcher downloads sources into cache files.
type Fetcher struct {
	dialers map[Protocol]DialFunc
	limiter *rate.Limiter
	now     func() time.Time
	log     *logger.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDialer replaces the dialer used for protocol p.
func WithDialer(p Protocol, dial DialFunc) Option {
	return func(f *Fetcher) { f.dialers[p] = dial }
}

// WithHTTPClient sets the client used for HTTP sources.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.dialers[HTTP] = HTTPDialer(c) }
}

// WithLimiter throttles new connections to remote servers.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher with FTP and HTTP support and no connection limit.
func New(log *logger.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		dialers: map[Protocol]DialFunc{
			FTP:  DialFTP,
			HTTP: HTTPDialer(nil),
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch brings cache up to date with src. The remote modification date is
// compared with the cache's when the server can report it; otherwise a cache
// younger than MaxAgeDays is kept. A failed transfer leaves the previous cache
// file in place.
func (f *Fetcher) Fetch(ctx context.Context, src Source, cache CacheFile, opts Options) Result {
	log := f.log.With("source", src.Name, "remote", src.Path, "cache", cache.Path)

	dial, ok := f.dialers[src.Protocol]
	if !ok {
		return failed(log, fmt.Errorf("no dialer for protocol %q", src.Protocol))
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return failed(log, fmt.Errorf("waiting for connection slot: %w", err))
	}

	remote, err := dial(ctx, src)
	if err != nil {
		return failed(log, err)
	}
	defer remote.Close()

	localMod, haveLocal := cache.ModTime()
	entry, err := remote.Stat(ctx, src.Path)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Warn("remote file is missing")
		return Result{Message: MsgMissing}
	case err != nil:
		log.Warn("cannot get remote modification date", "error", err)
		if !opts.Force && haveLocal && f.now().Sub(localMod) < maxAge(opts.MaxAgeDays) {
			log.Info("keeping cache file", "age", f.now().Sub(localMod).Round(time.Second).String())
			return Result{Message: MsgCacheFresh}
		}
	default:
		if !opts.Force && haveLocal {
			local, rmod := dateStamp(localMod), dateStamp(entry.ModTime)
			if local >= rmod {
				log.Debug("remote file is not newer", "local", local, "remote", rmod)
				return Result{Message: MsgNotNewer}
			}
		}
	}

	n, err := f.download(ctx, remote, src.Path, cache.Path, opts.Compress)
	if err != nil {
		return failed(log, err)
	}
	log.Info("downloaded remote file", "bytes", n)
	return Result{Downloaded: true, Message: MsgDownloaded}
}

func (f *Fetcher) download(ctx context.Context, remote Remote, remotePath, localPath string, compress bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating cache directory: %w", err)
	}

	body, err := remote.Retrieve(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var (
		w  io.Writer = tmp
		zw *gzip.Writer
	)
	if compress {
		zw = gzip.NewWriter(tmp)
		w = zw
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return n, fmt.Errorf("compressing %s: %w", remotePath, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		return n, fmt.Errorf("replacing cache file: %w", err)
	}
	committed = true
	return n, nil
}

func failed(log *logger.Logger, err error) Result {
	log.Error("fetch failed", "error", err)
	return Result{Message: err.Error(), Err: err}
}

func maxAge(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func dateStamp(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
