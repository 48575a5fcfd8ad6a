// Package session drives one authenticated connection's sync-protocol
// state machine (spec.md §4.3): it pulls SyncMessage requests off a
// gateway.Connection, dispatches each to the storage façade, and writes
// back the matching ack. Generalizes the teacher's
// internal/server.Handler.HandleConnection dispatch loop from a
// magic-bytes/sub-handler switch to a SyncMessage MessageType switch.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/agoracyber/dimsp-go/internal/gateway"
	"github.com/agoracyber/dimsp-go/internal/logging"
	"github.com/agoracyber/dimsp-go/internal/metrics"
	"github.com/agoracyber/dimsp-go/internal/storage"
	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/agoracyber/dimsp-go/internal/wire"
)

// Session owns one connection's request/response loop against a shared
// storage façade. Stream handles themselves live in the façade (spec.md
// Invariant 3 scopes them to "the session/facade lifetime that opened
// them"); Session only remembers which connection it is serving.
type Session struct {
	conn      gateway.Connection
	facade    *storage.Facade
	logger    *slog.Logger
	logCloser io.Closer
	metrics   *metrics.Registry
}

// SetMetrics attaches the registry dispatch reports request/rejection
// counts to. Left unset (nil), the session dispatches without metrics.
func (s *Session) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// New builds a Session bound to one already-authenticated connection. If
// sessionLogDir is non-empty, the session additionally logs to its own
// file under that directory for the life of the connection (grounded on
// the teacher's per-backup-session file logging in
// internal/logging.NewSessionLogger, here keyed by principal and
// connection id instead of agent name and backup session id).
func New(conn gateway.Connection, facade *storage.Facade, logger *slog.Logger, sessionLogDir string) *Session {
	principal := conn.Principal()
	base := logger.With("conn_id", conn.ID(), "uns_id", principal.UNSID)

	sessionID := fmt.Sprintf("uns-%d-conn-%d", principal.UNSID, conn.ID())
	sessLogger, closer, _, err := logging.NewSessionLogger(base, sessionLogDir, "hub", sessionID)
	if err != nil {
		base.Warn("session: failed to open per-connection log file, continuing without it", "error", err)
		sessLogger, closer = base, io.NopCloser(nil)
	}

	return &Session{conn: conn, facade: facade, logger: sessLogger, logCloser: closer}
}

// Run processes requests until the connection closes, ctx is canceled,
// or an unrecoverable transport error occurs. It never returns a
// sentinel for a clean client-initiated close (io.EOF): that is the
// ordinary end of a session.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()
	defer s.logCloser.Close()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := s.conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session: receiving message: %w", err)
		}

		ack, err := s.dispatch(ctx, req)
		if err != nil {
			s.logger.Error("session: dispatch failed", "type", req.Type, "error", err)
			return err
		}

		if err := s.conn.Send(ack); err != nil {
			return fmt.Errorf("session: sending ack: %w", err)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, req wire.SyncMessage) (wire.SyncMessage, error) {
	owner := s.conn.Principal()
	clientID := owner.ClientID()

	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(req.Type.String()).Inc()
	}
	ack, err := s.dispatchType(ctx, owner, clientID, req)
	if s.metrics != nil {
		if reason, rejected := syncErrorOf(ack.Payload); rejected {
			s.metrics.RejectedTotal.WithLabelValues(reason.String()).Inc()
		}
	}
	return ack, err
}

// syncErrorOf extracts the SyncError an ack payload carries, if any. Acks
// with no SyncError field (OpenInboxAck, OpenNextInboxStreamAck) never
// count as rejections here.
func syncErrorOf(payload any) (wire.SyncError, bool) {
	switch p := payload.(type) {
	case wire.OpenWriteStreamAck:
		return p.SyncError, p.SyncError != wire.ErrSuccess
	case wire.WriteFragmentAck:
		return p.SyncError, p.SyncError != wire.ErrSuccess
	case wire.CloseWriteStreamAck:
		return p.SyncError, p.SyncError != wire.ErrSuccess
	case wire.ReadFragmentAck:
		return p.SyncError, p.SyncError != wire.ErrSuccess
	case wire.CloseInboxStreamAck:
		return p.SyncError, p.SyncError != wire.ErrSuccess
	default:
		return wire.ErrSuccess, false
	}
}

func (s *Session) dispatchType(ctx context.Context, owner types.MNSAccount, clientID types.Hash32, req wire.SyncMessage) (wire.SyncMessage, error) {
	switch req.Type {
	case wire.TypeOpenWriteStream:
		payload, ok := req.Payload.(wire.OpenWriteStream)
		if !ok {
			return wire.SyncMessage{}, fmt.Errorf("session: OpenWriteStream payload has type %T", req.Payload)
		}
		ack, err := s.facade.OpenWriteStream(owner, payload)
		return reply(req, wire.TypeOpenWriteStreamAck, ack, err)

	case wire.TypeWriteFragment:
		payload, ok := req.Payload.(wire.WriteFragment)
		if !ok {
			return wire.SyncMessage{}, fmt.Errorf("session: WriteFragment payload has type %T", req.Payload)
		}
		ack, err := s.facade.WriteFragment(ctx, owner, payload)
		return reply(req, wire.TypeWriteFragmentAck, ack, err)

	case wire.TypeCloseWriteStream:
		payload, ok := req.Payload.(wire.CloseWriteStream)
		if !ok {
			return wire.SyncMessage{}, fmt.Errorf("session: CloseWriteStream payload has type %T", req.Payload)
		}
		ack, err := s.facade.CloseWriteStream(payload)
		return reply(req, wire.TypeCloseWriteStreamAck, ack, err)

	case wire.TypeOpenInbox:
		ack, err := s.facade.OpenInbox(owner, clientID)
		return reply(req, wire.TypeOpenInboxAck, ack, err)

	case wire.TypeOpenNextInboxStream:
		ack, err := s.facade.OpenNextInboxStream(owner, clientID)
		return reply(req, wire.TypeOpenNextInboxStreamAck, ack, err)

	case wire.TypeReadFragment:
		payload, ok := req.Payload.(wire.ReadFragment)
		if !ok {
			return wire.SyncMessage{}, fmt.Errorf("session: ReadFragment payload has type %T", req.Payload)
		}
		ack, err := s.facade.ReadFragment(ctx, owner, payload)
		return reply(req, wire.TypeReadFragmentAck, ack, err)

	case wire.TypeCloseInboxStream:
		payload, ok := req.Payload.(wire.CloseInboxStream)
		if !ok {
			return wire.SyncMessage{}, fmt.Errorf("session: CloseInboxStream payload has type %T", req.Payload)
		}
		ack, err := s.facade.CloseInboxStream(payload)
		return reply(req, wire.TypeCloseInboxStreamAck, ack, err)

	default:
		return wire.SyncMessage{}, fmt.Errorf("session: unexpected request type %s", req.Type)
	}
}

// reply wraps a façade ack in an envelope carrying the request's
// correlation id, the way a request/response RPC layer must: the client
// matches acks to requests by ID, not by arrival order, since
// write/read streams can legitimately pipeline several in flight.
func reply(req wire.SyncMessage, ackType wire.MessageType, payload any, err error) (wire.SyncMessage, error) {
	if err != nil {
		return wire.SyncMessage{}, err
	}
	return wire.SyncMessage{ID: req.ID, Type: ackType, Payload: payload}, nil
}
