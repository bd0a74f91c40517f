package p2p

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// NodeConfig bundles everything a full node needs.
type NodeConfig struct {
	Identity            Identity
	DiscoveryPort       int
	TransferPort        int
	DownloadsDir        string
	AnnounceInterval    time.Duration
	PeerTimeout         time.Duration
	ExpiryCheckInterval time.Duration
	SpeedWindow         int
	EnableMDNS          bool
}

func (c NodeConfig) withDefaults() NodeConfig {
	if c.DiscoveryPort <= 0 {
		c.DiscoveryPort = DiscoveryPort
	}
	if c.TransferPort <= 0 {
		c.TransferPort = TransferPort
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = AnnounceInterval
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = PeerTimeout
	}
	if c.ExpiryCheckInterval <= 0 {
		c.ExpiryCheckInterval = ExpiryCheckInterval
	}
	if c.SpeedWindow <= 0 {
		c.SpeedWindow = DefaultSpeedWindow
	}
	return c
}

// Node runs announce, peer listen, expiry sweep and the transfer server together,
// and sends files to peers it knows about.
type Node struct {
	cfg       NodeConfig
	registry  *PeerRegistry
	discovery *DiscoveryService
	server    *Server
	sender    *Sender
	logger    *log.Logger
}

// NewNode wires a node. sink receives peer and inbound transfer events; recorder may be nil.
func NewNode(cfg NodeConfig, transport Transport, sink EventSink, recorder StatsRecorder, logger *log.Logger) *Node {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if transport == nil {
		transport = NewTCPTransport()
	}

	return &Node{
		cfg:      cfg,
		registry: NewPeerRegistry(sink),
		discovery: NewDiscoveryService(DiscoveryConfig{
			Port:     cfg.DiscoveryPort,
			Interval: cfg.AnnounceInterval,
			Identity: cfg.Identity,
		}, logger),
		server: NewServer(transport, ServerConfig{
			Address:      fmt.Sprintf(":%d", cfg.TransferPort),
			DownloadsDir: cfg.DownloadsDir,
			SpeedWindow:  cfg.SpeedWindow,
		}, sink, recorder, logger),
		sender: NewSender(transport, SenderConfig{
			Port:        cfg.TransferPort,
			SpeedWindow: cfg.SpeedWindow,
		}, recorder, logger),
		logger: logger,
	}
}

// Registry exposes the live peer set
func (n *Node) Registry() *PeerRegistry { return n.registry }

// Server exposes the transfer server
func (n *Node) Server() *Server { return n.server }

// Run starts every loop and blocks until ctx is cancelled or one of them fails to start.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.discovery.Announce(ctx) })
	g.Go(func() error { return n.discovery.Listen(ctx, n.registry.Observe) })
	g.Go(func() error { return n.registry.Run(ctx, n.cfg.ExpiryCheckInterval, n.cfg.PeerTimeout) })
	g.Go(func() error { return n.server.Serve(ctx) })

	if n.cfg.EnableMDNS {
		id := n.discovery.Identity()
		if id.IP == "" {
			id.IP = OutboundIP()
		}
		mcfg := MDNSConfig{Port: n.cfg.TransferPort, Identity: id}

		adv, err := StartMDNSAdvertiser(mcfg)
		if err != nil {
			n.logger.Printf("mdns: %v", err)
		} else {
			defer adv.Stop()
		}
		browser, err := NewMDNSBrowser(mcfg, n.logger)
		if err != nil {
			n.logger.Printf("mdns: %v", err)
		} else {
			g.Go(func() error { return browser.Run(ctx, n.registry.Observe) })
		}
	}

	return g.Wait()
}

// ResolvePeer maps a display name or IP to an address. Unknown literal IPs are accepted as is.
func (n *Node) ResolvePeer(nameOrIP string) (string, error) {
	if p, ok := n.registry.Lookup(nameOrIP); ok {
		return p.IP, nil
	}
	if net.ParseIP(nameOrIP) != nil {
		return nameOrIP, nil
	}
	return "", fmt.Errorf("%w: %s", ErrPeerNotFound, nameOrIP)
}

// SendFile sends path to a peer in the background and reports through onComplete.
func (n *Node) SendFile(ctx context.Context, path, nameOrIP string, onProgress ProgressFunc, onComplete CompleteFunc) <-chan error {
	ip, err := n.ResolvePeer(nameOrIP)
	if err != nil {
		done := make(chan error, 1)
		go func() {
			if onComplete != nil {
				onComplete(false, err.Error())
			}
			done <- err
			close(done)
		}()
		return done
	}
	return n.sender.SendAsync(ctx, path, ip, onProgress, onComplete)
}
