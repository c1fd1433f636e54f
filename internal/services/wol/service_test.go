package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	wakeFunc func(addr string, mac net.HardwareAddr) error
}

func (m *mockClient) Wake(addr string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(addr, mac)
	}
	return nil
}

type mockProber struct {
	probeFunc func(ctx context.Context, addr string) error
}

func (m *mockProber) Probe(ctx context.Context, addr string) error {
	if m.probeFunc != nil {
		return m.probeFunc(ctx, addr)
	}
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func baseConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		ProbePort:    445,
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_NoProbe(t *testing.T) {
	var capturedAddr string
	var capturedMAC net.HardwareAddr
	client := &mockClient{
		wakeFunc: func(addr string, mac net.HardwareAddr) error {
			capturedAddr = addr
			capturedMAC = mac
			return nil
		},
	}
	svc := NewWithClients(testLogger(), client, nil)
	cfg := baseConfig()
	cfg.ProbePort = 0

	result, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.NasReady)
	assert.Nil(t, result.Error)
	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255:9", capturedAddr)
}

func TestWake_CustomPort(t *testing.T) {
	var capturedAddr string
	client := &mockClient{
		wakeFunc: func(addr string, _ net.HardwareAddr) error {
			capturedAddr = addr
			return nil
		},
	}
	svc := NewWithClients(testLogger(), client, nil)
	cfg := baseConfig()
	cfg.ProbePort = 0
	cfg.Port = 7

	_, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.255:7", capturedAddr)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockClient{}, &mockProber{})
	cfg := baseConfig()
	cfg.MACAddress = "invalid-mac"

	result, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_InvalidBroadcastIP(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockClient{}, &mockProber{})
	cfg := baseConfig()
	cfg.BroadcastIP = "not-an-ip"

	result, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "invalid broadcast IP")
}

func TestWake_SendFailed(t *testing.T) {
	client := &mockClient{
		wakeFunc: func(string, net.HardwareAddr) error {
			return errors.New("network error")
		},
	}
	svc := NewWithClients(testLogger(), client, &mockProber{})

	result, err := svc.Wake(context.Background(), baseConfig(), "nas.local")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_ProbesNasAddress(t *testing.T) {
	var calls atomic.Int32
	var probed string
	prober := &mockProber{
		probeFunc: func(_ context.Context, addr string) error {
			probed = addr
			if calls.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	svc := NewWithClients(testLogger(), &mockClient{}, prober)

	result, err := svc.Wake(context.Background(), baseConfig(), "192.168.1.10")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.NasReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "192.168.1.10:445", probed)
}

func TestWake_ProbeTimeout(t *testing.T) {
	prober := &mockProber{
		probeFunc: func(context.Context, string) error {
			return errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), &mockClient{}, prober)
	cfg := baseConfig()
	cfg.Timeout = 50 * time.Millisecond

	result, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.NasReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	prober := &mockProber{
		probeFunc: func(context.Context, string) error {
			return errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), &mockClient{}, prober)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := baseConfig()
	cfg.PollInterval = 100 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, cfg, "nas.local")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.NasReady)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestWake_SettleTime(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockClient{}, &mockProber{})
	cfg := baseConfig()
	cfg.SettleTime = 50 * time.Millisecond

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg, "nas.local")

	require.NoError(t, err)
	assert.True(t, result.NasReady)
	assert.GreaterOrEqual(t, time.Since(start), cfg.SettleTime)
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p := &TCPProber{Timeout: time.Second}
	require.NoError(t, p.Probe(context.Background(), addr))

	require.NoError(t, ln.Close())
	assert.Error(t, p.Probe(context.Background(), addr))
}
