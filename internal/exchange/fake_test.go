package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errFakeDial   = errors.New("connection refused")
	errFakeClosed = errors.New("use of closed connection")
	errFakeWrite  = errors.New("broken pipe")
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
	// writeLimit is the number of writes accepted before every write fails;
	// negative accepts all.
	writeLimit int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{}), writeLimit: -1}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeLimit >= 0 && len(c.written) >= c.writeLimit {
		return errFakeWrite
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame string) { c.in <- []byte(frame) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

// fakeDialer hands out fakeConns per URL, or fails every dial while fail is set.
type fakeDialer struct {
	mu         sync.Mutex
	fail       bool
	dials      int
	writeLimit int
	dialed     map[string]chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(map[string]chan *fakeConn), writeLimit: -1}
}

func (d *fakeDialer) ch(url string) chan *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.dialed[url]
	if !ok {
		c = make(chan *fakeConn, 16)
		d.dialed[url] = c
	}
	return c
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fail, limit := d.fail, d.writeLimit
	d.mu.Unlock()
	if fail {
		return nil, errFakeDial
	}
	c := newFakeConn()
	c.writeLimit = limit
	d.ch(url) <- c
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

// setWriteLimit makes every later connection fail writes after n successful ones.
func (d *fakeDialer) setWriteLimit(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeLimit = n
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// next waits for the next connection dialed to url.
func (d *fakeDialer) next(t *testing.T, url string) *fakeConn {
	t.Helper()
	select {
	case c := <-d.ch(url):
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no dial to "+url)
		return nil
	}
}

// hangingDialer never completes a handshake; Dial returns only when ctx ends.
type hangingDialer struct {
	started chan struct{}
	dials   atomic.Int32
}

func newHangingDialer() *hangingDialer {
	return &hangingDialer{started: make(chan struct{}, 1)}
}

func (d *hangingDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	select {
	case d.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, msg string) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockNotifier) SendWithRetry(ctx context.Context, msg string) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
