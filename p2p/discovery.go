package p2p

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
)

// Identity is what this device announces about itself.
type Identity struct {
	Name string
	IP   string
}

// LocalIdentity returns an identity with name (or the host name when empty) and the
// outward-facing LAN address.
func LocalIdentity(name string) Identity {
	if name == "" {
		name = DisplayName()
	}
	return Identity{Name: strings.ReplaceAll(name, HeaderSeparator, "-"), IP: OutboundIP()}
}

// DisplayName returns the host name, or DefaultDisplayName if it is unavailable.
func DisplayName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return DefaultDisplayName
	}
	return host
}

// OutboundIP finds the preferred outbound IPv4 address by "connecting" a UDP socket to a
// public address. Nothing is sent. UnknownIP is returned when no route exists.
func OutboundIP() string {
	conn, err := net.Dial("udp4", ProbeAddress)
	if err != nil {
		return UnknownIP
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return UnknownIP
	}
	return addr.IP.String()
}

// EncodeAnnouncement renders an identity as the "<name>|<ip>" datagram.
func EncodeAnnouncement(id Identity) ([]byte, error) {
	if id.Name == "" || strings.Contains(id.Name, HeaderSeparator) {
		return nil, fmt.Errorf("%w: name %q", ErrInvalidAnnouncement, id.Name)
	}
	if id.IP == "" || strings.Contains(id.IP, HeaderSeparator) {
		return nil, fmt.Errorf("%w: ip %q", ErrInvalidAnnouncement, id.IP)
	}
	data := []byte(id.Name + HeaderSeparator + id.IP)
	if len(data) > DatagramBufferSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAnnouncement, len(data))
	}
	return data, nil
}

// ParseAnnouncement decodes a datagram carrying exactly one separator and two non-empty fields.
func ParseAnnouncement(data []byte) (Identity, error) {
	parts := strings.Split(string(data), HeaderSeparator)
	if len(parts) != 2 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidAnnouncement, data)
	}
	name, ip := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if name == "" || ip == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidAnnouncement, data)
	}
	return Identity{Name: name, IP: ip}, nil
}

// DiscoveryConfig configures announcing and listening. Zero values fall back to the defaults.
type DiscoveryConfig struct {
	Port     int
	Target   string // announcement destination, default the limited broadcast address
	Interval time.Duration
	Identity Identity
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.Port <= 0 {
		c.Port = DiscoveryPort
	}
	if c.Target == "" {
		c.Target = net.JoinHostPort(BroadcastAddress, strconv.Itoa(c.Port))
	}
	if c.Interval <= 0 {
		c.Interval = AnnounceInterval
	}
	if c.Identity.Name == "" {
		c.Identity.Name = DisplayName()
	}
	return c
}

// DiscoveryService broadcasts this device's presence and reports the announcements of others.
type DiscoveryService struct {
	cfg    DiscoveryConfig
	logger *log.Logger
}

// NewDiscoveryService creates a discovery service
func NewDiscoveryService(cfg DiscoveryConfig, logger *log.Logger) *DiscoveryService {
	if logger == nil {
		logger = log.Default()
	}
	return &DiscoveryService{cfg: cfg.withDefaults(), logger: logger}
}

// Identity returns the identity being announced. An empty IP is resolved on every round.
func (d *DiscoveryService) Identity() Identity {
	return d.cfg.Identity
}

// Announce broadcasts the identity immediately and then every interval until ctx is cancelled.
// Send errors are logged and the loop carries on.
func (d *DiscoveryService) Announce(ctx context.Context) error {
	target, err := net.ResolveUDPAddr("udp4", d.cfg.Target)
	if err != nil {
		return fmt.Errorf("discovery: resolve %s: %w", d.cfg.Target, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("discovery: open announce socket: %w", err)
	}
	defer conn.Close()

	// Announcements are link-local
	if err := ipv4.NewPacketConn(conn).SetTTL(1); err != nil {
		d.logger.Printf("discovery: set ttl: %v", err)
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		d.announceOnce(conn, target)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *DiscoveryService) announceOnce(conn *net.UDPConn, target *net.UDPAddr) {
	id := d.cfg.Identity
	if id.IP == "" {
		id.IP = OutboundIP()
	}
	data, err := EncodeAnnouncement(id)
	if err != nil {
		d.logger.Printf("discovery: %v", err)
		return
	}
	if _, err := conn.WriteToUDP(data, target); err != nil {
		d.logger.Printf("discovery: announce to %s: %v", target, err)
	}
}

// Listen binds the discovery port and reports every valid announcement until ctx is cancelled.
// The port is bound shared, so a running node and a one-off peer scan on the same host can
// both receive broadcasts.
func (d *DiscoveryService) Listen(ctx context.Context, onPeerSeen func(name, ip string)) error {
	conn, err := ListenDiscoveryPort(ctx, d.cfg.Port)
	if err != nil {
		return fmt.Errorf("discovery: listen on port %d: %w", d.cfg.Port, err)
	}
	return d.ListenOn(ctx, conn, onPeerSeen)
}

// ListenDiscoveryPort binds a UDP socket on port with address reuse enabled.
func ListenDiscoveryPort(ctx context.Context, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: shareDiscoveryPort}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// ListenOn reads announcements from conn, which it closes on return. onPeerSeen is called once
// per valid datagram, without de-duplication. Malformed datagrams are dropped.
func (d *DiscoveryService) ListenOn(ctx context.Context, conn *net.UDPConn, onPeerSeen func(name, ip string)) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		d.logger.Printf("discovery: interface info unavailable: %v", err)
	}

	buf := DiscoveryBufferPool.Get()
	defer DiscoveryBufferPool.Put(buf)

	pause := newLoopBackOff()
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wait := pause.NextBackOff()
			d.logger.Printf("discovery: receive: %v (retrying in %s)", err, wait)
			if !sleepContext(ctx, wait) {
				return nil
			}
			continue
		}
		pause.Reset()

		id, err := ParseAnnouncement(buf[:n])
		if err != nil {
			d.logger.Printf("discovery: dropping datagram from %s%s: %v", src, interfaceSuffix(cm), err)
			continue
		}
		onPeerSeen(id.Name, id.IP)
	}
}

func interfaceSuffix(cm *ipv4.ControlMessage) string {
	if cm == nil || cm.IfIndex == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
		return " on " + iface.Name
	}
	return fmt.Sprintf(" on interface %d", cm.IfIndex)
}
