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
	"time"
)

// SenderConfig tunes outbound transfers. Zero values fall back to the protocol defaults.
type SenderConfig struct {
	Port             int
	ChunkSize        int
	SpeedWindow      int
	ProgressInterval time.Duration
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.Port <= 0 {
		c.Port = TransferPort
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

// Sender pushes one file or packaged folder per call to a peer's transfer server.
type Sender struct {
	cfg       SenderConfig
	transport Transport
	recorder  StatsRecorder
	logger    *log.Logger
}

// NewSender creates a sender. recorder may be nil.
func NewSender(transport Transport, cfg SenderConfig, recorder StatsRecorder, logger *log.Logger) *Sender {
	if transport == nil {
		transport = NewTCPTransport()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{
		cfg:       cfg.withDefaults(),
		transport: transport,
		recorder:  recorder,
		logger:    logger,
	}
}

// payload is what actually goes on the wire for one send.
type payload struct {
	path  string
	name  string
	size  int64
	owned bool // a temporary archive this sender must delete
}

func preparePayload(path string) (payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return payload{}, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	if !info.IsDir() {
		return payload{path: path, name: filepath.Base(path), size: info.Size()}, nil
	}

	archive, err := CreateArchive(path)
	if err != nil {
		return payload{}, err
	}
	ainfo, err := os.Stat(archive)
	if err != nil {
		os.Remove(archive)
		return payload{}, fmt.Errorf("stat archive: %w", err)
	}
	return payload{path: archive, name: ArchiveName(path), size: ainfo.Size(), owned: true}, nil
}

// Send transfers path (a file, or a folder which is packaged first) to targetIP and blocks
// until the transfer finishes. onProgress may be nil. A packaged archive is always removed
// before Send returns; the user's own files are never touched.
func (s *Sender) Send(ctx context.Context, path, targetIP string, onProgress ProgressFunc) error {
	p, err := preparePayload(path)
	if err != nil {
		return NewTransferError(err, filepath.Base(path), targetIP, "")
	}
	if p.owned {
		defer func() {
			if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Printf("transfer: remove archive %s: %v", p.path, err)
			}
		}()
	}

	stats := NewTransferStats(p.name, p.size, targetIP, DirectionSent)
	s.logger.Printf("transfer: sending %s (%d bytes) to %s", p.name, p.size, targetIP)

	sent, err := s.transfer(ctx, p, targetIP, onProgress)
	if err != nil {
		stats.MarkFailed(sent, err)
		s.record(stats)
		return NewTransferError(err, p.name, targetIP, "")
	}
	stats.MarkCompleted(sent)
	s.record(stats)
	s.logger.Printf("transfer: sent %s to %s at %s", p.name, targetIP, FormatSpeed(stats.AverageSpeed))
	return nil
}

// SendAsync runs Send on its own goroutine and reports the outcome through onComplete.
// The returned channel yields Send's error (nil on success) and is then closed.
func (s *Sender) SendAsync(ctx context.Context, path, targetIP string, onProgress ProgressFunc, onComplete CompleteFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := s.Send(ctx, path, targetIP, onProgress)
		if onComplete != nil {
			if err != nil {
				onComplete(false, err.Error())
			} else {
				onComplete(true, "File sent successfully")
			}
		}
		done <- err
	}()
	return done
}

func (s *Sender) transfer(ctx context.Context, p payload, targetIP string, onProgress ProgressFunc) (int64, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	defer file.Close()

	header, err := NewTransferHeader(p.name, p.size)
	if err != nil {
		return 0, err
	}

	conn, err := s.transport.Dial(ctx, net.JoinHostPort(targetIP, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sent, err := s.stream(conn, file, header, onProgress)
	if err != nil && ctx.Err() != nil {
		return sent, fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return sent, err
}

func (s *Sender) stream(conn net.Conn, file io.Reader, header TransferHeader, onProgress ProgressFunc) (int64, error) {
	// The handshake shares the connect budget
	conn.SetDeadline(time.Now().Add(ConnectTimeout))
	if err := writeFull(conn, header.Encode()); err != nil {
		return 0, err
	}
	if err := readAck(conn); err != nil {
		return 0, err
	}

	buf, release := getChunkBuffer(s.cfg.ChunkSize)
	defer release()

	tracker := newProgressTracker(header.Size, s.cfg.SpeedWindow, s.cfg.ProgressInterval, onProgress, time.Now)
	var sent int64
	for sent < header.Size {
		want := min(int64(len(buf)), header.Size-sent)
		n, err := io.ReadFull(file, buf[:want])
		if err != nil {
			return sent, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		conn.SetWriteDeadline(time.Now().Add(StreamTimeout))
		if err := writeFull(conn, buf[:n]); err != nil {
			return sent, err
		}
		sent += int64(n)
		tracker.Advance(int64(n))
	}
	tracker.Finish()
	return sent, nil
}

func (s *Sender) record(stats *TransferStats) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordTransfer(stats); err != nil {
		s.logger.Printf("transfer: record history: %v", err)
	}
}
