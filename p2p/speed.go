package p2p

import (
	"fmt"
	"time"
)

const bytesPerMB = 1024 * 1024

// SpeedSampler keeps a rolling window of instantaneous MB/s samples.
// It is not safe for concurrent use; one transfer goroutine owns it.
type SpeedSampler struct {
	samples []float64
	next    int
}

// NewSpeedSampler creates a sampler holding at most capacity samples.
// A non-positive capacity falls back to DefaultSpeedWindow.
func NewSpeedSampler(capacity int) *SpeedSampler {
	if capacity <= 0 {
		capacity = DefaultSpeedWindow
	}
	return &SpeedSampler{samples: make([]float64, 0, capacity)}
}

// Sample records the throughput of one chunk. Chunks with no measurable elapsed time are ignored.
func (s *SpeedSampler) Sample(bytes int64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	s.Add(float64(bytes) / elapsed.Seconds() / bytesPerMB)
}

// Add appends a raw MB/s value, evicting the oldest once the window is full.
func (s *SpeedSampler) Add(mbps float64) {
	if len(s.samples) < cap(s.samples) {
		s.samples = append(s.samples, mbps)
		return
	}
	s.samples[s.next] = mbps
	s.next = (s.next + 1) % len(s.samples)
}

// Smoothed returns the arithmetic mean of the window, or 0 when empty.
func (s *SpeedSampler) Smoothed() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.samples {
		sum += v
	}
	return sum / float64(len(s.samples))
}

// Len reports how many samples the window currently holds.
func (s *SpeedSampler) Len() int {
	return len(s.samples)
}

// FormatSpeed renders a MB/s figure the way progress callbacks carry it.
func FormatSpeed(mbps float64) string {
	if mbps <= 0 {
		return "0 MB/s"
	}
	return fmt.Sprintf("%.1f MB/s", mbps)
}

// averageSpeed is the whole-transfer MB/s figure.
func averageSpeed(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds() / bytesPerMB
}
