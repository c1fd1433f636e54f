// Package ssh powers off the NAS over SSH once a backup has finished.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is used when the config leaves the port unset.
const DefaultPort = 22

// Service defines the interface for SSH operations against the NAS.
type Service interface {
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig, nasAddress string) (*models.SSHResult, error)
	Check(ctx context.Context, cfg models.SSHShutdownConfig, nasAddress string) (*models.SSHResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DialFactory dials real SSH connections.
type DialFactory struct{}

// NewClient dials addr.
func (f *DialFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &dialedClient{client: client}, nil
}

type dialedClient struct {
	client *ssh.Client
}

func (c *dialedClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *dialedClient) Close() error {
	return c.client.Close()
}

// Impl implements the Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DialFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

// ShutdownCommand returns the power-off command for the configured platform.
func ShutdownCommand(cfg models.SSHShutdownConfig) (string, error) {
	if cfg.Command != "" {
		return cfg.Command, nil
	}

	minutes := int(math.Ceil(cfg.Delay.Minutes()))
	switch cfg.Platform {
	case "", models.PlatformLinux:
		if minutes == 0 {
			return "sudo shutdown -h now", nil
		}
		return fmt.Sprintf("sudo shutdown -h +%d", minutes), nil
	case models.PlatformSynology:
		return "sudo synopoweroff", nil
	case models.PlatformTrueNAS:
		if minutes == 0 {
			return "sudo shutdown -p now", nil
		}
		return fmt.Sprintf("sudo shutdown -p +%d", minutes), nil
	case models.PlatformWindows:
		return fmt.Sprintf("shutdown /s /t %d", int(cfg.Delay.Seconds())), nil
	default:
		return "", fmt.Errorf("unknown NAS platform %q", cfg.Platform)
	}
}

// Shutdown powers the NAS off. A dropped connection after the command was
// sent is expected and only logged.
func (s *Impl) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig, nasAddress string) (*models.SSHResult, error) {
	result := &models.SSHResult{Host: host(cfg, nasAddress)}

	cmd, err := ShutdownCommand(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	s.logger.Info().
		Str("host", result.Host).
		Str("user", cfg.Username).
		Str("platform", cfg.Platform).
		Dur("delay", cfg.Delay).
		Msg("powering off NAS")

	output, ran, err := s.run(ctx, cfg, result.Host, cmd)
	result.Output = output
	result.CommandRun = ran
	switch {
	case !ran:
		result.Error = err
	case err != nil && ctx.Err() != nil:
		result.Error = ctx.Err()
	case err != nil:
		s.logger.Warn().Err(err).Str("output", output).Msg("shutdown command returned error (may be expected)")
	}

	s.logger.Info().
		Bool("command_run", result.CommandRun).
		Str("output", result.Output).
		Msg("shutdown command completed")

	return result, nil
}

// Check verifies that the NAS accepts the configured SSH credentials.
func (s *Impl) Check(ctx context.Context, cfg models.SSHShutdownConfig, nasAddress string) (*models.SSHResult, error) {
	result := &models.SSHResult{Host: host(cfg, nasAddress)}

	s.logger.Debug().Str("host", result.Host).Msg("checking SSH access to NAS")

	output, ran, err := s.run(ctx, cfg, result.Host, "echo OK")
	result.Output = output
	result.CommandRun = ran
	if err != nil {
		if ran {
			err = fmt.Errorf("test command failed: %w", err)
		}
		result.Error = err
	}
	return result, nil
}

// run executes cmd on host and reports whether the command was sent.
func (s *Impl) run(ctx context.Context, cfg models.SSHShutdownConfig, hostname, cmd string) (string, bool, error) {
	if hostname == "" {
		return "", false, errors.New("no NAS host configured")
	}
	sshConfig, err := buildConfig(cfg)
	if err != nil {
		return "", false, err
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))

	type dialed struct {
		client SSHClient
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		ch <- dialed{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.client != nil {
				_ = d.client.Close()
			}
		}()
		return "", false, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return "", false, fmt.Errorf("failed to connect: %w", d.err)
		}
		client = d.client
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", false, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("executing remote command")
	output, err := session.CombinedOutput(cmd)
	return string(output), true, err
}

func host(cfg models.SSHShutdownConfig, nasAddress string) string {
	if cfg.Host != "" {
		return cfg.Host
	}
	return nasAddress
}

func buildConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, errors.New("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in through known_hosts
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", cfg.KnownHostsPath, err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}
