package p2p

import (
	"errors"
	"fmt"
)

// Error types for better error handling and debugging
var (
	// Network and connection errors
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConnectionBroken  = errors.New("Connection broken")
	ErrConnectionClosed  = errors.New("connection closed before all bytes arrived")
	ErrTransportUnknown  = errors.New("unknown transport")
	ErrListenerNotActive = errors.New("listener not active")

	// File operation errors
	ErrFileNotFound = errors.New("file not found")
	ErrNotDirectory = errors.New("not a directory")
	ErrShortRead    = errors.New("source file shorter than declared size")

	// Protocol errors
	ErrNoAcknowledgment    = errors.New("No acknowledgment received")
	ErrInvalidHeader       = errors.New("invalid transfer header")
	ErrInvalidAnnouncement = errors.New("invalid announcement")

	// Discovery errors
	ErrPeerNotFound = errors.New("peer not found")
)

// TransferError represents a transfer-specific error with context
type TransferError struct {
	Type        error
	Filename    string
	PeerAddress string
	Reason      string
}

// Error implements the error interface
func (te *TransferError) Error() string {
	if te.Reason == "" {
		return fmt.Sprintf("transfer of '%s' with %s: %v", te.Filename, te.PeerAddress, te.Type)
	}
	return fmt.Sprintf("transfer of '%s' with %s: %v: %s", te.Filename, te.PeerAddress, te.Type, te.Reason)
}

// Unwrap returns the underlying error type
func (te *TransferError) Unwrap() error {
	return te.Type
}

// NewTransferError creates a new transfer error with context
func NewTransferError(errType error, filename, peerAddress, reason string) *TransferError {
	return &TransferError{
		Type:        errType,
		Filename:    filename,
		PeerAddress: peerAddress,
		Reason:      reason,
	}
}

// IsTransferError checks if an error is, or wraps, a TransferError
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
