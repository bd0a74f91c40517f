package p2p

import "time"

// Network constants
const (
	// DiscoveryPort is the UDP port announcements are broadcast to and received on
	DiscoveryPort = 32768
	// TransferPort is the TCP (or QUIC) port the transfer server listens on
	TransferPort = 32769
	// BroadcastAddress is the limited broadcast address announcements are sent to
	BroadcastAddress = "255.255.255.255"
	// ProbeAddress is dialed (never written to) to learn the outward-facing LAN address
	ProbeAddress = "8.8.8.8:80"
	// UnknownIP is reported when the local address cannot be determined
	UnknownIP = "0.0.0.0"
	// DefaultDisplayName is used when the host name is unavailable
	DefaultDisplayName = "SnapSend Device"
	// DatagramBufferSize bounds a single announcement
	DatagramBufferSize = 1024
)

// Discovery timing constants
const (
	// AnnounceInterval is the delay between two presence broadcasts
	AnnounceInterval = 2 * time.Second
	// PeerTimeout is the liveness timeout after which a silent peer is dropped
	PeerTimeout = 6 * time.Second
	// ExpiryCheckInterval is the cadence of the stale peer sweep
	ExpiryCheckInterval = 2 * time.Second
)

// Transfer constants
const (
	// ChunkSize is the payload read/write unit (1MB)
	ChunkSize = 1024 * 1024
	// HeaderBufferSize bounds the header read on the receiver
	HeaderBufferSize = 1024
	// SocketBufferSize is the requested kernel send/receive buffer size
	SocketBufferSize = 1024 * 1024
	// ConnectTimeout bounds dialing the peer and waiting for its acknowledgment
	ConnectTimeout = 30 * time.Second
	// StreamTimeout bounds a single blocking read or write once a session is running
	StreamTimeout = 30 * time.Second
	// ProgressInterval is the minimum wall-clock gap between two progress callbacks
	ProgressInterval = 100 * time.Millisecond
	// DefaultSpeedWindow is the number of instantaneous samples averaged into a speed figure
	DefaultSpeedWindow = 10
	// AckMessage is the receiver's acknowledgment of a parsed header
	AckMessage = "ACK"
	// HeaderSeparator splits name and size in the header, and name and IP in announcements
	HeaderSeparator = "|"
)

// QUIC transport constants
const (
	// ConnectionKeepalive is the keepalive interval for QUIC connections
	ConnectionKeepalive = 15 * time.Second
	// ConnectionIdleTimeout closes QUIC connections with no traffic
	ConnectionIdleTimeout = 30 * time.Second
	// PeerCloseTimeout is how long a QUIC sender waits for the receiver to hang up
	PeerCloseTimeout = 5 * time.Second
	// TLSServerName is the ALPN protocol negotiated on QUIC connections
	TLSServerName = "snapsend"
)

// TLS certificate constants
const (
	// CertificateValidityDays is the validity period for self-signed certificates
	CertificateValidityDays = 365
	// CertificateOrganization is the organization name for certificates
	CertificateOrganization = "SnapSend"
)

// mDNS constants
const (
	// MDNSService is the zeroconf service type advertised and browsed
	MDNSService = "_snapsend._tcp"
	// MDNSDomain is the zeroconf domain
	MDNSDomain = "local."
	// MDNSBrowseInterval is the delay between two browse windows
	MDNSBrowseInterval = 2 * time.Second
	// MDNSBrowseTimeout bounds one browse window
	MDNSBrowseTimeout = 1500 * time.Millisecond
)

const (
	// DirectionSent marks transfers initiated by this host
	DirectionSent = "sent"
	// DirectionReceived marks transfers accepted by the transfer server
	DirectionReceived = "received"
)
