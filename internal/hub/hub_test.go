package hub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agoracyber/dimsp-go/internal/gateway"
	"github.com/agoracyber/dimsp-go/internal/storage"
	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/agoracyber/dimsp-go/internal/wire"
)

// fakeConn is a gateway.Connection double that answers exactly one
// open_inbox request and then reports a clean EOF, so a session spawned
// on it terminates on its own.
type fakeConn struct {
	id        uint64
	principal types.MNSAccount
	recvOnce  chan struct{}
	closed    chan struct{}
}

func newFakeConn(id uint64) *fakeConn {
	return &fakeConn{
		id:        id,
		principal: types.MNSAccount{UNSID: id, PubKey: types.PubKey{Variant: types.PubKeyEd25519, Key: make([]byte, 32)}},
		recvOnce:  make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) ID() uint64                  { return c.id }
func (c *fakeConn) Principal() types.MNSAccount { return c.principal }

func (c *fakeConn) Recv() (wire.SyncMessage, error) {
	select {
	case <-c.recvOnce:
		return wire.SyncMessage{}, io.EOF
	default:
		c.recvOnce <- struct{}{}
		return wire.SyncMessage{ID: 1, Type: wire.TypeOpenInbox, Payload: wire.OpenInbox{}}, nil
	}
}

func (c *fakeConn) Send(wire.SyncMessage) error { return nil }

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// fakeGateway hands out a fixed number of fakeConns, then blocks until
// closed and returns gateway.ErrShutdown, mirroring how a real
// TCPGateway behaves once its listener is closed mid-Accept.
type fakeGateway struct {
	conns  chan gateway.Connection
	closed chan struct{}
}

func newFakeGateway(n int) *fakeGateway {
	g := &fakeGateway{conns: make(chan gateway.Connection, n), closed: make(chan struct{})}
	for i := 0; i < n; i++ {
		g.conns <- newFakeConn(uint64(i + 1))
	}
	return g
}

func (g *fakeGateway) Accept(ctx context.Context) (gateway.Connection, error) {
	select {
	case c, ok := <-g.conns:
		if !ok {
			return nil, gateway.ErrShutdown
		}
		return c, nil
	case <-g.closed:
		return nil, gateway.ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *fakeGateway) Close() error {
	select {
	case <-g.closed:
	default:
		close(g.closed)
	}
	return nil
}

func TestHubRunServesAcceptedConnectionsThenShutsDown(t *testing.T) {
	facade, err := storage.NewFacade(storage.NewMemKV(), ".", nil)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}
	gw := newFakeGateway(3)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(gw, facade, nil, nil, logger, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	// Let the three seeded connections get accepted and served, then
	// simulate gateway shutdown.
	time.Sleep(50 * time.Millisecond)
	gw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after gateway shutdown")
	}
	cancel()
}
