package p2p

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transfer status values
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TransferStats contains the final statistics of one transfer session
type TransferStats struct {
	ID                string
	Filename          string
	FileSize          int64
	BytesTransferred  int64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
	AverageSpeed      float64 // in MB/s
	PeerAddress       string
	TransferDirection string // "sent" or "received"
	Status            string
	Error             string
}

// NewTransferStats creates a new transfer stats instance with a fresh ID
func NewTransferStats(filename string, fileSize int64, peerAddress string, direction string) *TransferStats {
	return &TransferStats{
		ID:                uuid.NewString(),
		Filename:          filename,
		FileSize:          fileSize,
		StartTime:         time.Now(),
		PeerAddress:       peerAddress,
		TransferDirection: direction,
		Status:            StatusInProgress,
	}
}

// Info returns the sink-facing identity of the transfer
func (ts *TransferStats) Info() TransferInfo {
	return TransferInfo{
		ID:        ts.ID,
		Direction: ts.TransferDirection,
		FileName:  ts.Filename,
		Size:      ts.FileSize,
		Peer:      ts.PeerAddress,
	}
}

// MarkCompleted marks the transfer as completed and calculates final stats
func (ts *TransferStats) MarkCompleted(bytesTransferred int64) {
	ts.finish(bytesTransferred)
	ts.Status = StatusCompleted
}

// MarkFailed marks the transfer as failed
func (ts *TransferStats) MarkFailed(bytesTransferred int64, err error) {
	ts.finish(bytesTransferred)
	ts.Status = StatusFailed
	if err != nil {
		ts.Error = err.Error()
	}
}

func (ts *TransferStats) finish(bytesTransferred int64) {
	ts.EndTime = time.Now()
	ts.Duration = ts.EndTime.Sub(ts.StartTime)
	ts.BytesTransferred = bytesTransferred
	ts.AverageSpeed = averageSpeed(bytesTransferred, ts.Duration)
}

// Summary renders a multi-line report of the transfer
func (ts *TransferStats) Summary() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "TRANSFER SUMMARY - %s\n", strings.ToUpper(ts.TransferDirection))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "File:           %s\n", ts.Filename)
	fmt.Fprintf(&b, "Size:           %.2f MB\n", float64(ts.FileSize)/bytesPerMB)
	fmt.Fprintf(&b, "Peer:           %s\n", ts.PeerAddress)
	fmt.Fprintf(&b, "Duration:       %.2f seconds\n", ts.Duration.Seconds())
	fmt.Fprintf(&b, "Average Speed:  %s\n", FormatSpeed(ts.AverageSpeed))
	fmt.Fprintf(&b, "Status:         %s\n", ts.Status)
	if ts.Error != "" {
		fmt.Fprintf(&b, "Error:          %s\n", ts.Error)
	}
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}
