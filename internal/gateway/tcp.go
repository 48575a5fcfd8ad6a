package gateway

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agoracyber/dimsp-go/internal/mns"
	"github.com/agoracyber/dimsp-go/internal/pki"
	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/agoracyber/dimsp-go/internal/wire"
)

// handshakeTimeout bounds how long the TLS handshake and mTLS
// certificate verification may take before a connecting socket is
// dropped, mirroring the teacher's defensive read/write deadlines in
// internal/server.Handler.
const handshakeTimeout = 10 * time.Second

// TCPGateway listens for TLS 1.3 mTLS connections and resolves each
// client's presented certificate to an MNS principal. Grounded on the
// teacher's internal/server.Run accept loop: a TLS listener and a
// consecutive-error backoff; the listener is closed by Close rather than
// by a context. Authentication is folded into
// the accept path here, so every value handed out by Accept already
// carries a resolved Principal.
type TCPGateway struct {
	ln      net.Listener
	mnsSvc  mns.Service
	logger  *slog.Logger
	accepted chan *tcpConnection
	done    chan struct{}
	closed  atomic.Bool
	connSeq atomic.Uint64
}

// NewTCPGateway configures TLS 1.3 mTLS the way pki.NewServerTLSConfig
// does for the teacher's backup server, listens on address, and starts
// the background accept loop.
func NewTCPGateway(address, caCert, serverCert, serverKey string, mnsSvc mns.Service, logger *slog.Logger) (*TCPGateway, error) {
	tlsCfg, err := pki.NewServerTLSConfig(caCert, serverCert, serverKey)
	if err != nil {
		return nil, fmt.Errorf("gateway: configuring TLS: %w", err)
	}
	ln, err := tls.Listen("tcp", address, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: listening on %s: %w", address, err)
	}
	g := &TCPGateway{
		ln:       ln,
		mnsSvc:   mnsSvc,
		logger:   logger,
		accepted: make(chan *tcpConnection),
		done:     make(chan struct{}),
	}
	go g.acceptLoop()
	return g, nil
}

// acceptLoop mirrors the teacher's Run: accept, backoff on consecutive
// errors, exit cleanly once the listener is closed. The handshake and
// principal lookup happen in their own goroutine per connection so one
// slow or hostile client can't stall acceptance of the next.
func (g *TCPGateway) acceptLoop() {
	consecutiveErrors := 0
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			if g.closed.Load() {
				return
			}
			consecutiveErrors++
			if g.logger != nil {
				g.logger.Error("gateway: accept error", "error", err, "consecutive_errors", consecutiveErrors)
			}
			delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
			if delay > 5*time.Second {
				delay = 5 * time.Second
			}
			time.Sleep(delay)
			continue
		}
		consecutiveErrors = 0
		go g.authenticate(conn)
	}
}

func (g *TCPGateway) authenticate(conn net.Conn) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		if g.logger != nil {
			g.logger.Warn("gateway: TLS handshake failed", "remote", conn.RemoteAddr(), "error", err)
		}
		conn.Close()
		return
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return
	}
	principal, err := principalFromCert(state.PeerCertificates[0], g.mnsSvc)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("gateway: rejecting connection", "remote", conn.RemoteAddr(), "error", err)
		}
		conn.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})

	c := &tcpConnection{
		id:        g.connSeq.Add(1),
		principal: principal,
		conn:      tlsConn,
		reader:    bufio.NewReader(tlsConn),
	}
	select {
	case g.accepted <- c:
	case <-g.done:
		conn.Close()
	}
}

// Accept blocks until a client completes its TLS handshake and its
// certificate resolves to a known MNS principal, ctx is canceled, or the
// gateway is closed (in which case it returns ErrShutdown).
func (g *TCPGateway) Accept(ctx context.Context) (Connection, error) {
	select {
	case c := <-g.accepted:
		return c, nil
	case <-g.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *TCPGateway) Close() error {
	if g.closed.CompareAndSwap(false, true) {
		close(g.done)
		return g.ln.Close()
	}
	return nil
}

// tcpConnection adapts one *tls.Conn into the gateway.Connection
// contract, framing payloads with wire.ReadMessage/WriteMessage.
type tcpConnection struct {
	id        uint64
	principal types.MNSAccount
	conn      net.Conn
	reader    *bufio.Reader
	writeMu   sync.Mutex
}

func (c *tcpConnection) ID() uint64                  { return c.id }
func (c *tcpConnection) Principal() types.MNSAccount { return c.principal }
func (c *tcpConnection) Close() error                { return c.conn.Close() }

func (c *tcpConnection) Recv() (wire.SyncMessage, error) {
	msg, err := wire.ReadMessage(c.reader)
	if err != nil {
		return wire.SyncMessage{}, err
	}
	return *msg, nil
}

func (c *tcpConnection) Send(msg wire.SyncMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteMessage(c.conn, &msg)
}

// principalFromCert derives the caller's PubKey from the certificate its
// mTLS handshake verified, then resolves it through the name-service
// adapter. The certificate IS the client's pub_key presentation; no
// separate application-level handshake message is needed on top of mTLS.
func principalFromCert(cert *x509.Certificate, mnsSvc mns.Service) (types.MNSAccount, error) {
	var pk types.PubKey
	switch pub := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		pk = types.PubKey{Variant: types.PubKeyEd25519, Key: []byte(pub)}
	case *rsa.PublicKey:
		variant, err := rsaVariant(pub)
		if err != nil {
			return types.MNSAccount{}, err
		}
		key := make([]byte, variant.KeySize())
		pub.N.FillBytes(key)
		pk = types.PubKey{Variant: variant, Key: key}
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return types.MNSAccount{}, fmt.Errorf("gateway: unsupported ECDSA curve %s", pub.Curve.Params().Name)
		}
		pk = types.PubKey{Variant: types.PubKeyECDSASecp256k1, Key: elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y)}
	default:
		return types.MNSAccount{}, fmt.Errorf("gateway: unsupported certificate public key type %T", pub)
	}
	if err := pk.Validate(); err != nil {
		return types.MNSAccount{}, fmt.Errorf("gateway: certificate public key: %w", err)
	}
	account, ok := mnsSvc.MNSByPubKey(pk)
	if !ok {
		return types.MNSAccount{}, fmt.Errorf("gateway: no MNS account for presented certificate")
	}
	return account, nil
}

func rsaVariant(pub *rsa.PublicKey) (types.PubKeyVariant, error) {
	switch pub.N.BitLen() {
	case 1024:
		return types.PubKeyRSA1024, nil
	case 2048:
		return types.PubKeyRSA2048, nil
	case 4096:
		return types.PubKeyRSA4096, nil
	default:
		return 0, fmt.Errorf("gateway: unsupported RSA key size %d bits", pub.N.BitLen())
	}
}
