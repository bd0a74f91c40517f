package p2p

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type completion struct {
	info    TransferInfo
	success bool
	message string
}

// recordingSink captures server events for assertions.
type recordingSink struct {
	NopSink
	mu        sync.Mutex
	started   []TransferInfo
	percents  map[string][]float64
	completed chan completion
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		percents:  make(map[string][]float64),
		completed: make(chan completion, 16),
	}
}

func (s *recordingSink) TransferStarted(info TransferInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, info)
}

func (s *recordingSink) TransferProgress(info TransferInfo, percent float64, _ string, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percents[info.ID] = append(s.percents[info.ID], percent)
}

func (s *recordingSink) TransferCompleted(info TransferInfo, success bool, message string) {
	s.completed <- completion{info: info, success: success, message: message}
}

func (s *recordingSink) waitCompleted(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-s.completed:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the receiver to finish")
		return completion{}
	}
}

type memRecorder struct {
	mu    sync.Mutex
	stats []*TransferStats
}

func (r *memRecorder) RecordTransfer(stats *TransferStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, stats)
	return nil
}

func (r *memRecorder) all() []*TransferStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*TransferStats(nil), r.stats...)
}

func startTestServer(t *testing.T, sink TransferListener, recorder StatsRecorder) (*Server, int) {
	t.Helper()

	transport := NewTCPTransport()
	transport.Logger = quietLogger()
	ln, err := transport.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := NewServer(transport, ServerConfig{
		DownloadsDir: filepath.Join(t.TempDir(), "downloads"),
	}, sink, recorder, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Server did not stop")
		}
	})

	return srv, ln.Addr().(*net.TCPAddr).Port
}

func newTestSender(port int, recorder StatsRecorder) *Sender {
	transport := NewTCPTransport()
	transport.Logger = quietLogger()
	return NewSender(transport, SenderConfig{Port: port}, recorder, quietLogger())
}

func writeRandomFile(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return data
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, 5*ChunkSize + 37}

	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			sink := newRecordingSink()
			recorder := &memRecorder{}
			srv, port := startTestServer(t, sink, recorder)

			srcDir := t.TempDir()
			name := fmt.Sprintf("payload-%d.bin", size)
			want := writeRandomFile(t, srcDir, name, size)

			var percents []float64
			sender := newTestSender(port, recorder)
			err := sender.Send(context.Background(), filepath.Join(srcDir, name), "127.0.0.1", func(p float64, _ string, _ float64) {
				percents = append(percents, p)
			})
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			c := sink.waitCompleted(t)
			if !c.success || c.message != "File received successfully" {
				t.Fatalf("Expected receiver success, got %v %q", c.success, c.message)
			}

			got, err := os.ReadFile(filepath.Join(srv.DownloadsDir(), name))
			if err != nil {
				t.Fatalf("Failed to read received file: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("Received file differs from source (%d vs %d bytes)", len(got), len(want))
			}

			if _, err := os.Stat(filepath.Join(srcDir, name)); err != nil {
				t.Errorf("Source file must not be removed: %v", err)
			}

			if len(percents) == 0 || percents[len(percents)-1] != 100 {
				t.Fatalf("Expected sender progress to end at 100, got %v", percents)
			}
			for i := 1; i < len(percents); i++ {
				if percents[i] < percents[i-1] {
					t.Fatalf("Sender progress decreased: %v", percents)
				}
			}

			sink.mu.Lock()
			recv := sink.percents[c.info.ID]
			sink.mu.Unlock()
			if len(recv) == 0 || recv[len(recv)-1] != 100 {
				t.Errorf("Expected receiver progress to end at 100, got %v", recv)
			}
			for i := 1; i < len(recv); i++ {
				if recv[i] < recv[i-1] {
					t.Fatalf("Receiver progress decreased: %v", recv)
				}
			}

			stats := recorder.all()
			if len(stats) != 2 {
				t.Fatalf("Expected a history record per side, got %d", len(stats))
			}
			for _, s := range stats {
				if s.Status != StatusCompleted || s.BytesTransferred != int64(size) {
					t.Errorf("Unexpected stats: %s %s %d", s.TransferDirection, s.Status, s.BytesTransferred)
				}
			}
		})
	}
}

func TestReceiverShortPayloadFails(t *testing.T) {
	sink := newRecordingSink()
	srv, port := startTestServer(t, sink, nil)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("short.bin|100")); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	if err := readAck(conn); err != nil {
		t.Fatalf("Expected ACK, got %v", err)
	}
	if _, err := conn.Write(make([]byte, 10)); err != nil {
		t.Fatalf("Failed to write payload: %v", err)
	}
	conn.Close()

	c := sink.waitCompleted(t)
	if c.success {
		t.Fatal("Expected the receiver to report failure")
	}
	if _, err := os.Stat(filepath.Join(srv.DownloadsDir(), "short.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the partial file to be removed, got %v", err)
	}
}

func TestReceiverMalformedHeaderGetsNoAck(t *testing.T) {
	sink := newRecordingSink()
	_, port := startTestServer(t, sink, nil)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("no separator here")); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Expected the server to close the connection, got %v", err)
	}
	if len(reply) != 0 {
		t.Fatalf("Expected no ACK, got %q", reply)
	}

	// The server keeps accepting after a bad session
	sender := newTestSender(port, nil)
	srcDir := t.TempDir()
	writeRandomFile(t, srcDir, "after.bin", 64)
	if err := sender.Send(context.Background(), filepath.Join(srcDir, "after.bin"), "127.0.0.1", nil); err != nil {
		t.Fatalf("Send after malformed session failed: %v", err)
	}
	if c := sink.waitCompleted(t); !c.success {
		t.Fatalf("Expected success, got %q", c.message)
	}
}

// startFakeReceiver answers the header with reply and counts payload bytes that follow.
func startFakeReceiver(t *testing.T, reply string) (int, <-chan int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	payload := make(chan int, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			payload <- -1
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))

		if _, err := readHeader(conn); err != nil {
			payload <- -1
			return
		}
		if reply == "" {
			payload <- 0
			return
		}
		conn.Write([]byte(reply))
		n, _ := io.Copy(io.Discard, conn)
		payload <- int(n)
	}()

	return ln.Addr().(*net.TCPAddr).Port, payload
}

func TestSenderRejectsBadAck(t *testing.T) {
	for _, reply := range []string{"", "NAK"} {
		t.Run("reply="+reply, func(t *testing.T) {
			port, payload := startFakeReceiver(t, reply)

			srcDir := t.TempDir()
			writeRandomFile(t, srcDir, "data.bin", 4096)

			recorder := &memRecorder{}
			sender := newTestSender(port, recorder)
			err := sender.Send(context.Background(), filepath.Join(srcDir, "data.bin"), "127.0.0.1", nil)
			if !errors.Is(err, ErrNoAcknowledgment) {
				t.Fatalf("Expected ErrNoAcknowledgment, got %v", err)
			}
			if !IsTransferError(err) {
				t.Errorf("Expected a TransferError, got %T", err)
			}

			select {
			case n := <-payload:
				if n != 0 {
					t.Fatalf("Expected no payload bytes after a bad ACK, got %d", n)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Fake receiver did not finish")
			}

			stats := recorder.all()
			if len(stats) != 1 || stats[0].Status != StatusFailed {
				t.Fatalf("Expected one failed record, got %+v", stats)
			}
		})
	}
}

func TestSendAsyncReportsOutcome(t *testing.T) {
	sink := newRecordingSink()
	_, port := startTestServer(t, sink, nil)
	sender := newTestSender(port, nil)

	srcDir := t.TempDir()
	writeRandomFile(t, srcDir, "async.bin", 1000)

	type outcome struct {
		success bool
		message string
	}
	results := make(chan outcome, 2)
	onComplete := func(success bool, message string) { results <- outcome{success, message} }

	if err := <-sender.SendAsync(context.Background(), filepath.Join(srcDir, "async.bin"), "127.0.0.1", nil, onComplete); err != nil {
		t.Fatalf("SendAsync failed: %v", err)
	}
	if got := <-results; !got.success || got.message != "File sent successfully" {
		t.Fatalf("Unexpected completion: %+v", got)
	}
	sink.waitCompleted(t)

	err := <-sender.SendAsync(context.Background(), filepath.Join(srcDir, "missing.bin"), "127.0.0.1", nil, onComplete)
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Expected ErrFileNotFound, got %v", err)
	}
	if got := <-results; got.success || got.message == "" {
		t.Fatalf("Expected a failure message, got %+v", got)
	}
}

func TestSendFolderDeliversArchiveAndRemovesIt(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	sink := newRecordingSink()
	srv, port := startTestServer(t, sink, nil)

	folder := filepath.Join(t.TempDir(), "album")
	if err := os.MkdirAll(filepath.Join(folder, "nested"), 0o755); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	writeRandomFile(t, folder, "one.jpg", 2048)
	writeRandomFile(t, filepath.Join(folder, "nested"), "two.jpg", 10)

	sender := newTestSender(port, nil)
	if err := sender.Send(context.Background(), folder, "127.0.0.1", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	c := sink.waitCompleted(t)
	if !c.success || c.info.FileName != "album.zip" {
		t.Fatalf("Expected album.zip to arrive, got %+v", c)
	}

	zr, err := zip.OpenReader(filepath.Join(srv.DownloadsDir(), "album.zip"))
	if err != nil {
		t.Fatalf("Received archive is not a zip: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(zr.File))
	}

	leftovers, _ := filepath.Glob(filepath.Join(tmp, "snapsend-*.zip"))
	if len(leftovers) != 0 {
		t.Errorf("Expected the temporary archive to be removed, found %v", leftovers)
	}
	if _, err := os.Stat(folder); err != nil {
		t.Errorf("Source folder must be kept: %v", err)
	}
}

func TestConcurrentReceivesAreIsolated(t *testing.T) {
	sink := newRecordingSink()
	srv, port := startTestServer(t, sink, nil)
	sender := newTestSender(port, nil)

	srcDir := t.TempDir()
	names := []string{"a.bin", "b.bin", "c.bin"}
	want := make(map[string][]byte)
	for i, name := range names {
		want[name] = writeRandomFile(t, srcDir, name, (i+1)*ChunkSize/2)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			errs <- sender.Send(context.Background(), filepath.Join(srcDir, name), "127.0.0.1", nil)
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent send failed: %v", err)
		}
	}

	for range names {
		if c := sink.waitCompleted(t); !c.success {
			t.Fatalf("Receive failed: %s", c.message)
		}
	}
	for name, data := range want {
		got, err := os.ReadFile(filepath.Join(srv.DownloadsDir(), name))
		if err != nil || !bytes.Equal(got, data) {
			t.Errorf("File %s was not received intact: %v", name, err)
		}
	}
}

func TestSendToClosedPortFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	srcDir := t.TempDir()
	writeRandomFile(t, srcDir, "x.bin", 10)

	err = newTestSender(port, nil).Send(context.Background(), filepath.Join(srcDir, "x.bin"), "127.0.0.1", nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Expected ErrConnectionFailed, got %v", err)
	}
}
