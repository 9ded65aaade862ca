package remote

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 45 * time.Second
)

// Client is a Service reached over a Unix socket. Each call opens a new
// connection; failed dials are retried with exponential backoff for up to
// RetryFor. Requests themselves are never retried.
type Client struct {
	socketPath string

	// RetryFor bounds the time spent retrying a dial.
	RetryFor time.Duration
}

var _ Service = (*Client)(nil)

// NewClient returns a client for the server listening at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, RetryFor: 2 * time.Second}
}

// Dial returns a client after checking the server answers.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	c := NewClient(socketPath)
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, &request{Action: actionPing}, nil)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		d := net.Dialer{Timeout: dialTimeout}
		var err error
		conn, err = d.DialContext(ctx, "unix", c.socketPath)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = c.RetryFor
	notify := func(err error, d time.Duration) {
		log.Debugf("remote: dial %s failed, retrying in %v: %v", c.socketPath, d, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// call sends req and decodes the response data into result, if non-nil.
func (c *Client) call(ctx context.Context, req *request, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", c.socketPath)
	}
	defer conn.Close()

	if err := encMode.NewEncoder(conn).Encode(req); err != nil {
		return errors.Wrapf(err, "writing %s request", req.Action)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var resp response
	if err := decMode.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&resp); err != nil {
		return errors.Wrapf(err, "reading %s response", req.Action)
	}
	if !resp.OK {
		return &Error{Action: req.Action, Code: resp.Code, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := decMode.Unmarshal(resp.Data, result); err != nil {
			return errors.Wrapf(err, "decoding %s response", req.Action)
		}
	}
	return nil
}

func (c *Client) CreateFile(ctx context.Context, name string, size int64) error {
	return c.call(ctx, &request{Action: actionCreate, Path: name, Size: size}, nil)
}

func (c *Client) OpenFile(ctx context.Context, name string, mode Mode) (Handle, error) {
	var reply handleReply
	if err := c.call(ctx, &request{Action: actionOpen, Path: name, Mode: mode}, &reply); err != nil {
		return nil, err
	}
	return &clientHandle{c: c, id: reply.Handle}, nil
}

func (c *Client) DeleteFile(ctx context.Context, name string) error {
	return c.call(ctx, &request{Action: actionDelete, Path: name}, nil)
}

func (c *Client) RenameFile(ctx context.Context, oldname, newname string) error {
	return c.call(ctx, &request{Action: actionRename, Path: oldname, NewPath: newname}, nil)
}

func (c *Client) DeleteDirectory(ctx context.Context, name string) error {
	return c.call(ctx, &request{Action: actionRmdir, Path: name}, nil)
}

func (c *Client) DeleteDirectoryRecursively(ctx context.Context, name string) error {
	return c.call(ctx, &request{Action: actionRmdirAll, Path: name}, nil)
}

func (c *Client) GetEntryType(ctx context.Context, name string) (EntryType, error) {
	var reply entryTypeReply
	if err := c.call(ctx, &request{Action: actionEntryType, Path: name}, &reply); err != nil {
		return 0, err
	}
	return reply.Type, nil
}

func (c *Client) OpenDirectory(ctx context.Context, name string) (DirHandle, error) {
	var reply handleReply
	if err := c.call(ctx, &request{Action: actionOpenDir, Path: name}, &reply); err != nil {
		return nil, err
	}
	return &clientDir{c: c, id: reply.Handle}, nil
}

// clientHandle is a server-side file handle.
type clientHandle struct {
	c  *Client
	id uint64
}

// ReadAt splits reads larger than one message into several requests.
func (h *clientHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		chunk := min(len(p)-n, maxChunk)
		var reply readReply
		req := &request{Action: actionRead, Handle: h.id, Offset: off + int64(n), Length: chunk}
		if err := h.c.call(ctx, req, &reply); err != nil {
			return n, err
		}
		n += copy(p[n:], reply.Data)
		if reply.EOF || len(reply.Data) < chunk {
			return n, io.EOF
		}
	}
	return n, nil
}

func (h *clientHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		chunk := min(len(p)-n, maxChunk)
		var reply countReply
		req := &request{Action: actionWrite, Handle: h.id, Offset: off + int64(n), Data: p[n : n+chunk]}
		if err := h.c.call(ctx, req, &reply); err != nil {
			return n, err
		}
		n += int(reply.N)
		if int(reply.N) < chunk {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

func (h *clientHandle) Size(ctx context.Context) (int64, error) {
	var reply countReply
	if err := h.c.call(ctx, &request{Action: actionSize, Handle: h.id}, &reply); err != nil {
		return 0, err
	}
	return reply.N, nil
}

func (h *clientHandle) SetSize(ctx context.Context, size int64) error {
	return h.c.call(ctx, &request{Action: actionSetSize, Handle: h.id, Size: size}, nil)
}

func (h *clientHandle) Close() error {
	return h.c.call(context.Background(), &request{Action: actionClose, Handle: h.id}, nil)
}

// clientDir is a server-side directory listing.
type clientDir struct {
	c  *Client
	id uint64
}

func (d *clientDir) Read(ctx context.Context, max int) ([]DirRecord, error) {
	var reply readDirReply
	if err := d.c.call(ctx, &request{Action: actionReadDir, Handle: d.id, Length: max}, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

func (d *clientDir) Close() error {
	return d.c.call(context.Background(), &request{Action: actionCloseDir, Handle: d.id}, nil)
}
