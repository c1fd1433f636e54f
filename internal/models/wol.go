package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the NAS.
type WOLConfig struct {
	MACAddress  string `yaml:"mac_address"`
	BroadcastIP string `yaml:"broadcast_ip"`
	Port        int    `yaml:"port"` // UDP port of the magic packet
	// ProbePort is the TCP port on the NAS that must accept connections before
	// the backup starts (445 for SMB). Zero skips the readiness check.
	ProbePort    int           `yaml:"probe_port"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SettleTime   time.Duration `yaml:"settle_time"` // wait after the NAS answers
}

// WOLResult holds the result of waking the NAS.
type WOLResult struct {
	PacketSent   bool
	NasReady     bool
	WaitDuration time.Duration
	Error        error
}
