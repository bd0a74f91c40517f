package p2p

// ProgressFunc receives cumulative progress (0..100) and a smoothed speed for one transfer.
type ProgressFunc func(percent float64, speedText string, speedValue float64)

// CompleteFunc receives the final outcome of one transfer.
type CompleteFunc func(success bool, message string)

// TransferInfo identifies a transfer in sink callbacks.
type TransferInfo struct {
	ID        string
	Direction string
	FileName  string
	Size      int64
	Peer      string
}

// PeerListener is notified when the registry gains or loses a peer.
type PeerListener interface {
	PeerAdded(peer PeerRecord)
	PeerRemoved(peer PeerRecord)
}

// TransferListener is notified about transfers handled by the server.
type TransferListener interface {
	TransferStarted(info TransferInfo)
	TransferProgress(info TransferInfo, percent float64, speedText string, speedValue float64)
	TransferCompleted(info TransferInfo, success bool, message string)
}

// EventSink is the whole callback surface consumed by a presentation layer.
// Methods may be called from any goroutine.
type EventSink interface {
	PeerListener
	TransferListener
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) PeerAdded(PeerRecord) {}
func (NopSink) PeerRemoved(PeerRecord) {}
func (NopSink) TransferStarted(TransferInfo) {}
func (NopSink) TransferProgress(TransferInfo, float64, string, float64) {}
func (NopSink) TransferCompleted(TransferInfo, bool, string) {}

// StatsRecorder persists the final statistics of a transfer.
type StatsRecorder interface {
	RecordTransfer(stats *TransferStats) error
}
