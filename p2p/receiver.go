package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// ServerConfig configures the transfer server. Zero values fall back to the protocol defaults.
type ServerConfig struct {
	Address          string
	DownloadsDir     string
	ChunkSize        int
	SpeedWindow      int
	ProgressInterval time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Address == "" {
		c.Address = ":" + strconv.Itoa(TransferPort)
	}
	if c.DownloadsDir == "" {
		c.DownloadsDir = DefaultDownloadsDir()
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = ChunkSize
	}
	if c.SpeedWindow <= 0 {
		c.SpeedWindow = DefaultSpeedWindow
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = ProgressInterval
	}
	return c
}

// DefaultDownloadsDir is ~/Downloads/SnapSend, or a SnapSend directory under the temp dir
// when the home directory is unknown.
func DefaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "SnapSend")
	}
	return filepath.Join(home, "Downloads", "SnapSend")
}

// Server accepts inbound transfer connections and runs one receive session per connection.
type Server struct {
	cfg       ServerConfig
	transport Transport
	sink      TransferListener
	recorder  StatsRecorder
	logger    *log.Logger

	wg sync.WaitGroup
}

// NewServer creates a transfer server. sink and recorder may be nil.
func NewServer(transport Transport, cfg ServerConfig, sink TransferListener, recorder StatsRecorder, logger *log.Logger) *Server {
	if transport == nil {
		transport = NewTCPTransport()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:       cfg.withDefaults(),
		transport: transport,
		sink:      sink,
		recorder:  recorder,
		logger:    logger,
	}
}

// DownloadsDir returns the directory received files are written to.
func (s *Server) DownloadsDir() string {
	return s.cfg.DownloadsDir
}

// Serve binds the configured address and accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.transport.Listen(ctx, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Address, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts on an already bound listener, which it closes on return.
// It waits for in-flight sessions before returning.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Printf("server: listening on %s (%s), saving to %s", ln.Addr(), s.transport.Name(), s.cfg.DownloadsDir)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()
	defer ln.Close()

	pause := newLoopBackOff()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrListenerNotActive
			}
			wait := pause.NextBackOff()
			s.logger.Printf("server: accept: %v (retrying in %s)", err, wait)
			if !sleepContext(ctx, wait) {
				return nil
			}
			continue
		}
		pause.Reset()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one receive session. Its failure never affects the accept loop.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := remoteIP(conn.RemoteAddr())

	conn.SetReadDeadline(time.Now().Add(StreamTimeout))
	header, err := readHeader(conn)
	if err != nil {
		s.logger.Printf("server: rejecting connection from %s: %v", peer, err)
		return
	}

	stats := NewTransferStats(header.FileName, header.Size, peer, DirectionReceived)
	info := stats.Info()
	s.logger.Printf("Receiving %s (%d bytes) from %s", header.FileName, header.Size, peer)
	s.sink.TransferStarted(info)

	received, err := s.receive(conn, header, func(percent float64, speedText string, speedValue float64) {
		s.sink.TransferProgress(info, percent, speedText, speedValue)
	})
	if err != nil {
		stats.MarkFailed(received, err)
		s.record(stats)
		s.logger.Printf("server: receiving %s from %s failed: %v", header.FileName, peer, err)
		s.sink.TransferCompleted(info, false, NewTransferError(err, header.FileName, peer, "").Error())
		return
	}

	stats.MarkCompleted(received)
	s.record(stats)
	s.logger.Printf("server: received %s from %s at %s", header.FileName, peer, FormatSpeed(stats.AverageSpeed))
	s.sink.TransferCompleted(info, true, "File received successfully")
}

// receive acknowledges header and streams exactly header.Size bytes into the downloads dir.
// A partially written file is removed on failure.
func (s *Server) receive(conn net.Conn, header TransferHeader, onProgress ProgressFunc) (received int64, err error) {
	conn.SetWriteDeadline(time.Now().Add(StreamTimeout))
	if err := writeAck(conn); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(s.cfg.DownloadsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create downloads dir: %w", err)
	}
	dest := filepath.Join(s.cfg.DownloadsDir, header.FileName)
	file, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dest, cerr)
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	buf, release := getChunkBuffer(s.cfg.ChunkSize)
	defer release()

	tracker := newProgressTracker(header.Size, s.cfg.SpeedWindow, s.cfg.ProgressInterval, onProgress, time.Now)
	for received < header.Size {
		want := min(int64(len(buf)), header.Size-received)
		conn.SetReadDeadline(time.Now().Add(StreamTimeout))
		n, rerr := conn.Read(buf[:want])
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return received, fmt.Errorf("write %s: %w", dest, werr)
			}
			received += int64(n)
			tracker.Advance(int64(n))
		}
		if rerr != nil {
			if received >= header.Size {
				break
			}
			if rerr == io.EOF {
				return received, fmt.Errorf("%w: got %d of %d bytes", ErrConnectionClosed, received, header.Size)
			}
			return received, fmt.Errorf("%w: %v", ErrConnectionBroken, rerr)
		}
		if n == 0 {
			return received, fmt.Errorf("%w: got %d of %d bytes", ErrConnectionClosed, received, header.Size)
		}
	}
	tracker.Finish()
	return received, nil
}

func (s *Server) record(stats *TransferStats) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordTransfer(stats); err != nil {
		s.logger.Printf("server: record history: %v", err)
	}
}

// remoteIP strips the port from a connection's remote address.
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return UnknownIP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// newLoopBackOff paces a long-running loop through consecutive transient errors. It never gives up.
func newLoopBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleepContext waits for d, reporting false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
