// Package wol wakes the NAS before a backup and waits until its share answers.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// DefaultPort is the UDP port magic packets are sent to.
const DefaultPort = 9

// Service defines the interface for waking the NAS.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig, nasAddress string) (*models.WOLResult, error)
}

// Client sends magic packets.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// Prober checks whether a TCP endpoint accepts connections.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// UDPClient sends magic packets with mdlayher/wol.
type UDPClient struct{}

// Wake sends a magic packet for mac to addr (host:port).
func (c *UDPClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// TCPProber dials the address and closes the connection right away.
type TCPProber struct {
	Timeout time.Duration
}

// Probe dials addr.
func (p *TCPProber) Probe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Impl implements the Service interface.
type Impl struct {
	client Client
	prober Prober
	logger zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		client: &UDPClient{},
		prober: &TCPProber{Timeout: 3 * time.Second},
		logger: logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, client Client, prober Prober) *Impl {
	return &Impl{
		client: client,
		prober: prober,
		logger: logger,
	}
}

// Wake sends the magic packet and, when a probe port is configured, waits for
// nasAddress to accept connections on it. Failures are reported in the result.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig, nasAddress string) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}
	ip := net.ParseIP(cfg.BroadcastIP)
	if ip == nil {
		result.Error = fmt.Errorf("invalid broadcast IP: %s", cfg.BroadcastIP)
		return result, nil
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Int("port", port).
		Msg("waking NAS")

	if err := s.client.Wake(net.JoinHostPort(ip.String(), strconv.Itoa(port)), mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.ProbePort == 0 {
		result.NasReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	addr := net.JoinHostPort(nasAddress, strconv.Itoa(cfg.ProbePort))
	s.logger.Info().
		Str("addr", addr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for NAS to answer")

	if err := s.waitForNas(ctx, cfg, addr); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.SettleTime > 0 {
		s.logger.Debug().Dur("settle", cfg.SettleTime).Msg("letting NAS settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.SettleTime):
		}
	}

	result.NasReady = true
	result.WaitDuration = time.Since(start)
	s.logger.Info().Dur("duration", result.WaitDuration).Msg("NAS is awake")

	return result, nil
}

func (s *Impl) waitForNas(ctx context.Context, cfg models.WOLConfig, addr string) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for NAS at %s", addr)
		}

		err := s.prober.Probe(ctx, addr)
		if err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Msg("NAS not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
