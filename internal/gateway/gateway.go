// Package gateway implements the transport adapter spec.md §6 specifies
// only by interface: something that authenticates an incoming connection
// to an MNS principal and exchanges framed wire.SyncMessage values with
// it.
package gateway

import (
	"context"
	"errors"

	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/agoracyber/dimsp-go/internal/wire"
)

// ErrShutdown is returned by Gateway.Accept once the gateway has been
// asked to stop; the hub's accept loop treats it as a clean exit.
var ErrShutdown = errors.New("gateway: shut down")

// Connection is one authenticated client session's framed message
// channel. Dropping a Connection must close its underlying transport.
type Connection interface {
	ID() uint64
	Principal() types.MNSAccount
	Recv() (wire.SyncMessage, error)
	Send(wire.SyncMessage) error
	Close() error
}

// Gateway accepts authenticated connections. Accept blocks until a
// connection is ready, ctx is canceled, or the gateway is shut down (in
// which case it returns ErrShutdown).
type Gateway interface {
	Accept(ctx context.Context) (Connection, error)
	Close() error
}
