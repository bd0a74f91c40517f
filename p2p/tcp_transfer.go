package p2p

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// Transport opens outbound transfer connections and listens for inbound ones.
type Transport interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
	Listen(ctx context.Context, address string) (net.Listener, error)
	Name() string
}

// NewTransport returns the transport registered under name ("tcp" or "quic"). id is the
// local device, named in the QUIC certificate.
func NewTransport(name string, id Identity) (Transport, error) {
	switch name {
	case "", "tcp":
		return NewTCPTransport(), nil
	case "quic":
		return NewQUICTransport(id)
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransportUnknown, name)
	}
}

// TCPTransport carries transfers over plain TCP, tuned for LAN throughput.
type TCPTransport struct {
	ConnectTimeout time.Duration
	BufferSize     int
	Logger         *log.Logger
}

// NewTCPTransport creates a TCP transport with the default timeouts and buffer sizes
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{
		ConnectTimeout: ConnectTimeout,
		BufferSize:     SocketBufferSize,
		Logger:         log.Default(),
	}
}

// Name identifies the transport in config and logs
func (t *TCPTransport) Name() string { return "tcp" }

// Dial connects to address, failing if the peer does not answer within ConnectTimeout.
func (t *TCPTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	t.tune(conn)
	return conn, nil
}

// Listen binds address and returns a listener whose accepted connections are tuned.
func (t *TCPTransport) Listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &tunedListener{Listener: ln, tune: t.tune}, nil
}

// tune favours latency and large buffers; failures only cost performance.
func (t *TCPTransport) tune(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(true); err != nil {
		t.logf("transfer: set no-delay: %v", err)
	}
	if t.BufferSize > 0 {
		if err := tcp.SetReadBuffer(t.BufferSize); err != nil {
			t.logf("transfer: set read buffer: %v", err)
		}
		if err := tcp.SetWriteBuffer(t.BufferSize); err != nil {
			t.logf("transfer: set write buffer: %v", err)
		}
	}
}

func (t *TCPTransport) logf(format string, args ...interface{}) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}

type tunedListener struct {
	net.Listener
	tune func(net.Conn)
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.tune(conn)
	return conn, nil
}
