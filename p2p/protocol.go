package p2p

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TransferHeader is sent once, before the payload, on every transfer connection.
type TransferHeader struct {
	FileName string
	Size     int64
}

// Encode renders the header as "<fileName>|<byteSize>".
func (h TransferHeader) Encode() []byte {
	return []byte(h.FileName + HeaderSeparator + strconv.FormatInt(h.Size, 10))
}

// NewTransferHeader validates a header before it is put on the wire
func NewTransferHeader(fileName string, size int64) (TransferHeader, error) {
	h := TransferHeader{FileName: fileName, Size: size}
	if err := validateFileName(fileName); err != nil {
		return TransferHeader{}, err
	}
	if size < 0 {
		return TransferHeader{}, fmt.Errorf("%w: negative size %d", ErrInvalidHeader, size)
	}
	if len(h.Encode()) > HeaderBufferSize {
		return TransferHeader{}, fmt.Errorf("%w: header exceeds %d bytes", ErrInvalidHeader, HeaderBufferSize)
	}
	return h, nil
}

// ParseTransferHeader decodes "<fileName>|<byteSize>". The size follows the last separator.
func ParseTransferHeader(data []byte) (TransferHeader, error) {
	if !utf8.Valid(data) {
		return TransferHeader{}, fmt.Errorf("%w: not UTF-8", ErrInvalidHeader)
	}
	raw := string(data)
	idx := strings.LastIndex(raw, HeaderSeparator)
	if idx < 0 {
		return TransferHeader{}, fmt.Errorf("%w: missing separator", ErrInvalidHeader)
	}
	name, sizeText := raw[:idx], raw[idx+len(HeaderSeparator):]
	if err := validateFileName(name); err != nil {
		return TransferHeader{}, err
	}
	size, err := strconv.ParseInt(sizeText, 10, 64)
	if err != nil || size < 0 {
		return TransferHeader{}, fmt.Errorf("%w: bad size %q", ErrInvalidHeader, sizeText)
	}
	return TransferHeader{FileName: name, Size: size}, nil
}

// validateFileName rejects names that would escape the downloads directory.
func validateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty file name", ErrInvalidHeader)
	case name == "." || name == "..":
		return fmt.Errorf("%w: file name %q", ErrInvalidHeader, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: file name %q contains a path separator", ErrInvalidHeader, name)
	}
	return nil
}

// readHeader performs the single bounded read the header arrives in.
func readHeader(r io.Reader) (TransferHeader, error) {
	buf := HeaderBufferPool.Get()
	defer HeaderBufferPool.Put(buf)

	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || err == io.EOF {
			return TransferHeader{}, fmt.Errorf("%w: empty header", ErrInvalidHeader)
		}
		return TransferHeader{}, fmt.Errorf("read header: %w", err)
	}
	return ParseTransferHeader(buf[:n])
}

// writeAck acknowledges a parsed header.
func writeAck(w io.Writer) error {
	return writeFull(w, []byte(AckMessage))
}

// readAck waits for exactly the 3 bytes "ACK".
func readAck(r io.Reader) error {
	ack := make([]byte, len(AckMessage))
	n, err := io.ReadFull(r, ack)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoAcknowledgment, err)
	}
	if string(ack[:n]) != AckMessage {
		return fmt.Errorf("%w: got %q", ErrNoAcknowledgment, ack[:n])
	}
	return nil
}

// writeFull writes data completely, looping on partial writes.
// A write that accepts zero bytes without an error means the connection is gone.
func writeFull(w io.Writer, data []byte) error {
	for written := 0; written < len(data); {
		n, err := w.Write(data[written:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionBroken, err)
		}
		if n == 0 {
			return ErrConnectionBroken
		}
		written += n
	}
	return nil
}
