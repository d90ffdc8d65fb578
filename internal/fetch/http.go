package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"
)

type httpRemote struct {
	client *http.Client
	origin string
}

// Timeouts for the default HTTP client. The body transfer itself is bounded
// only by the request context.
const (
	httpDialTimeout   = 30 * time.Second
	httpHeaderTimeout = time.Minute
)

// DefaultHTTPClient bounds connecting and waiting for response headers but
// not reading the body, so large files on slow links can finish.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: httpDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   httpDialTimeout,
			ResponseHeaderTimeout: httpHeaderTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// HTTPDialer returns a DialFunc for HTTP sources using client, or
// DefaultHTTPClient when client is nil.
func HTTPDialer(client *http.Client) DialFunc {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return func(ctx context.Context, src Source) (Remote, error) {
		return &httpRemote{client: client, origin: strings.TrimRight(src.Server, "/")}, nil
	}
}

func (r *httpRemote) url(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return r.origin + p
}

// Stat issues a HEAD request; Last-Modified stands in for a listing's
// modify fact.
func (r *httpRemote) Stat(ctx context.Context, p string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url(p), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrNoModTime, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Entry{}, ErrNotFound
	case resp.StatusCode >= 300:
		return Entry{}, fmt.Errorf("%w: HEAD %s: %s", ErrNoModTime, r.url(p), resp.Status)
	}

	entry := Entry{Name: path.Base(p)}
	if resp.ContentLength > 0 {
		entry.Size = uint64(resp.ContentLength)
	}
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return entry, fmt.Errorf("%w: no Last-Modified header", ErrNoModTime)
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return entry, fmt.Errorf("%w: parsing Last-Modified %q: %v", ErrNoModTime, lm, err)
	}
	entry.ModTime = t
	return entry, nil
}

func (r *httpRemote) Retrieve(ctx context.Context, p string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(p), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", r.url(p), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", r.url(p), resp.Status)
	}
	return resp.Body, nil
}

func (r *httpRemote) Close() error {
	return nil
}
