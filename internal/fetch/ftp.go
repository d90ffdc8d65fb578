package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpTimeout = 30 * time.Second

type ftpRemote struct {
	conn *ftp.ServerConn
}

// DialFTP connects and logs in to src.Server, anonymously unless the source
// carries credentials.
func DialFTP(ctx context.Context, src Source) (Remote, error) {
	conn, err := ftp.Dial(ftpAddr(src.Server), ftp.DialWithContext(ctx), ftp.DialWithTimeout(ftpTimeout))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", src.Server, err)
	}

	user, password := src.User, src.Password
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("logging in to %s: %w", src.Server, err)
	}
	return &ftpRemote{conn: conn}, nil
}

func ftpAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "21")
}

// Stat lists the parent directory. Listing times are only trusted when the
// server answers MLSD; plain LIST output is too coarse to compare.
func (r *ftpRemote) Stat(ctx context.Context, p string) (Entry, error) {
	entries, err := r.conn.List(path.Dir(p))
	if err != nil {
		return Entry{}, fmt.Errorf("listing %s: %w: %v", path.Dir(p), ErrNoModTime, err)
	}

	name := path.Base(p)
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		entry := Entry{Name: e.Name, Size: e.Size, ModTime: e.Time}
		if !r.conn.IsTimePreciseInList() {
			return entry, fmt.Errorf("%w: server does not support MLSD", ErrNoModTime)
		}
		return entry, nil
	}
	return Entry{}, ErrNotFound
}

func (r *ftpRemote) Retrieve(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := r.conn.Retr(p)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", p, err)
	}
	return resp, nil
}

func (r *ftpRemote) Close() error {
	return r.conn.Quit()
}
