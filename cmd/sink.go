package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"snapsend/p2p"
)

// consoleSink renders node events on a terminal, one progress bar per active transfer.
type consoleSink struct {
	out io.Writer

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

func (s *consoleSink) PeerAdded(peer p2p.PeerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "+ peer %s (%s)\n", peer.Name, peer.IP)
}

func (s *consoleSink) PeerRemoved(peer p2p.PeerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "- peer %s (%s)\n", peer.Name, peer.IP)
}

func (s *consoleSink) TransferStarted(info p2p.TransferInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "Receiving %s (%d bytes) from %s\n", info.FileName, info.Size, info.Peer)
	s.bars[info.ID] = newTransferBar(s.out, info.FileName)
}

func (s *consoleSink) TransferProgress(info p2p.TransferInfo, percent float64, speedText string, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bar, ok := s.bars[info.ID]; ok {
		updateBar(bar, info.FileName, percent, speedText)
	}
}

func (s *consoleSink) TransferCompleted(info p2p.TransferInfo, success bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bar, ok := s.bars[info.ID]; ok {
		if success {
			bar.Finish()
		}
		delete(s.bars, info.ID)
	}
	status := "ok"
	if !success {
		status = "failed"
	}
	fmt.Fprintf(s.out, "\n[%s] %s: %s\n", status, info.FileName, message)
}

func newTransferBar(out io.Writer, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
}

func updateBar(bar *progressbar.ProgressBar, name string, percent float64, speedText string) {
	bar.Describe(fmt.Sprintf("%s %s", name, speedText))
	bar.Set(int(percent))
}
