package p2p

import "time"

// ProgressTracker turns per-chunk byte counts into throttled progress callbacks.
// One tracker belongs to one transfer session and is driven from that session's goroutine.
type ProgressTracker struct {
	totalSize      int64
	transferred    int64
	startTime      time.Time
	lastUpdate     time.Time
	lastChunk      time.Time
	updateInterval time.Duration
	sampler        *SpeedSampler
	emit           ProgressFunc
	now            func() time.Time
}

// NewProgressTracker creates a tracker for a payload of totalSize bytes.
// emit may be nil, in which case progress is still measured but not reported.
func NewProgressTracker(totalSize int64, window int, emit ProgressFunc) *ProgressTracker {
	return newProgressTracker(totalSize, window, ProgressInterval, emit, time.Now)
}

func newProgressTracker(totalSize int64, window int, interval time.Duration, emit ProgressFunc, now func() time.Time) *ProgressTracker {
	start := now()
	return &ProgressTracker{
		totalSize:      totalSize,
		startTime:      start,
		lastUpdate:     start,
		lastChunk:      start,
		updateInterval: interval,
		sampler:        NewSpeedSampler(window),
		emit:           emit,
		now:            now,
	}
}

// SetUpdateInterval sets the minimum interval between progress updates
func (pt *ProgressTracker) SetUpdateInterval(interval time.Duration) {
	pt.updateInterval = interval
}

// Advance accounts for n more bytes moved and emits progress when the interval has elapsed.
func (pt *ProgressTracker) Advance(n int64) {
	now := pt.now()
	pt.sampler.Sample(n, now.Sub(pt.lastChunk))
	pt.lastChunk = now
	pt.transferred += n

	// Throttle updates; the final 100% is left to Finish
	if now.Sub(pt.lastUpdate) < pt.updateInterval || pt.transferred >= pt.totalSize {
		return
	}
	pt.lastUpdate = now
	pt.report(pt.Percentage(), pt.sampler.Smoothed())
}

// Finish emits the closing 100% callback with the whole-transfer average speed.
func (pt *ProgressTracker) Finish() {
	speed := averageSpeed(pt.transferred, pt.Elapsed())
	if speed == 0 {
		speed = pt.sampler.Smoothed()
	}
	pt.report(100, speed)
}

// Percentage returns cumulative progress in 0..100. An empty payload counts as complete.
func (pt *ProgressTracker) Percentage() float64 {
	if pt.totalSize <= 0 {
		return 100
	}
	p := float64(pt.transferred) / float64(pt.totalSize) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Transferred returns the bytes accounted so far.
func (pt *ProgressTracker) Transferred() int64 {
	return pt.transferred
}

// Elapsed returns the time since the tracker was created.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return pt.now().Sub(pt.startTime)
}

// Speed returns the current smoothed MB/s figure.
func (pt *ProgressTracker) Speed() float64 {
	return pt.sampler.Smoothed()
}

func (pt *ProgressTracker) report(percent, speed float64) {
	if pt.emit == nil {
		return
	}
	pt.emit(percent, FormatSpeed(speed), speed)
}
