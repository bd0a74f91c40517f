package p2p

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICTransport carries the same header/ACK/payload exchange on one QUIC stream per transfer.
type QUICTransport struct {
	ConnectTimeout time.Duration
	tls            *quicTLS
	config         *quic.Config
}

// NewQUICTransport creates a QUIC transport with a fresh certificate minted for id
func NewQUICTransport(id Identity) (*QUICTransport, error) {
	tlsConf, err := newQUICTLS(id)
	if err != nil {
		return nil, err
	}
	return &QUICTransport{
		ConnectTimeout: ConnectTimeout,
		tls:            tlsConf,
		config: &quic.Config{
			KeepAlivePeriod: ConnectionKeepalive,
			MaxIdleTimeout:  ConnectionIdleTimeout,
		},
	}, nil
}

// Certificate returns the certificate this transport presents to dialers
func (t *QUICTransport) Certificate() *x509.Certificate { return t.tls.leaf }

// Name identifies the transport in config and logs
func (t *QUICTransport) Name() string { return "quic" }

// Dial opens a QUIC connection and its single transfer stream.
func (t *QUICTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.ConnectTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, address, t.tls.client, t.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("%w: open stream: %v", ErrConnectionFailed, err)
	}
	return &quicStreamConn{conn: conn, stream: stream, initiator: true}, nil
}

// Listen binds a UDP address and accepts QUIC connections on it.
func (t *QUICTransport) Listen(ctx context.Context, address string) (net.Listener, error) {
	ln, err := quic.ListenAddr(address, t.tls.server, t.config)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.Background())
	return &quicListener{ln: ln, ctx: lctx, cancel: cancel}, nil
}

type quicListener struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func (l *quicListener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept(l.ctx)
	if err != nil {
		if l.closed.Load() {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	return &quicStreamConn{conn: conn}, nil
}

func (l *quicListener) Close() error {
	l.closed.Store(true)
	l.cancel()
	return l.ln.Close()
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

// quicStreamConn presents one QUIC connection and its transfer stream as a net.Conn.
// On the accepting side the stream is accepted lazily, on first use.
type quicStreamConn struct {
	conn      quic.Connection
	initiator bool

	mu            sync.Mutex
	stream        quic.Stream
	readDeadline  time.Time
	writeDeadline time.Time

	closeOnce sync.Once
}

func (c *quicStreamConn) getStream() (quic.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return c.stream, nil
	}

	deadline := c.readDeadline
	if deadline.IsZero() {
		deadline = time.Now().Add(StreamTimeout)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	stream.SetReadDeadline(c.readDeadline)
	stream.SetWriteDeadline(c.writeDeadline)
	c.stream = stream
	return stream, nil
}

func (c *quicStreamConn) Read(b []byte) (int, error) {
	s, err := c.getStream()
	if err != nil {
		return 0, err
	}
	return s.Read(b)
}

func (c *quicStreamConn) Write(b []byte) (int, error) {
	s, err := c.getStream()
	if err != nil {
		return 0, err
	}
	return s.Write(b)
}

// Close finishes the stream. The initiator gives the receiver time to drain the stream and
// hang up first, because closing a QUIC connection discards data still in flight.
func (c *quicStreamConn) Close() error {
	c.closeOnce.Do(func() {
		// The initiator's stream is fixed at dial time, so no lock is needed here.
		if c.initiator {
			c.stream.Close()
			select {
			case <-c.conn.Context().Done():
			case <-time.After(PeerCloseTimeout):
			}
		}
		c.conn.CloseWithError(0, "")
	})
	return nil
}

func (c *quicStreamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicStreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicStreamConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *quicStreamConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	if c.stream != nil {
		return c.stream.SetReadDeadline(t)
	}
	return nil
}

func (c *quicStreamConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	if c.stream != nil {
		return c.stream.SetWriteDeadline(t)
	}
	return nil
}
