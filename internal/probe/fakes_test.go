package probe

import (
	"context"
	"errors"
	"sync"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// fakeWarehouse hands out fakeConns and counts opens/closes.
type fakeWarehouse struct {
	mu         sync.Mutex
	numbers    map[string]float64
	queryErrs  map[string]error
	connectErr error
	version    string
	block      bool // QueryNumber waits for ctx
	panicOn    bool

	opened, closed int
}

func (f *fakeWarehouse) Connect(ctx context.Context) (warehouse.Conn, error) {
	if f.panicOn {
		panic("driver exploded")
	}
	if f.connectErr != nil {
		return nil, domain.NewFault(domain.ConnectionFault, "connect", f.connectErr)
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &fakeConn{w: f}, nil
}

type fakeConn struct {
	warehouse.Conn
	w *fakeWarehouse
}

func (c *fakeConn) Version(ctx context.Context) (string, error) {
	if c.w.version == "" {
		return "8.30.1", nil
	}
	return c.w.version, nil
}

func (c *fakeConn) QueryNumber(ctx context.Context, q string) (float64, error) {
	if c.w.block {
		<-ctx.Done()
		return 0, domain.NewFault(domain.QueryFault, "scalar", ctx.Err())
	}
	if err, ok := c.w.queryErrs[q]; ok {
		return 0, domain.NewFault(domain.QueryFault, "scalar", err)
	}
	n, ok := c.w.numbers[q]
	if !ok {
		return 0, domain.NewFault(domain.QueryFault, "scalar", errors.New("unknown query "+q))
	}
	return n, nil
}

func (c *fakeConn) Close() error {
	c.w.mu.Lock()
	c.w.closed++
	c.w.mu.Unlock()
	return nil
}
