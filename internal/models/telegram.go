package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	// QuietSuccess delivers success messages without a notification sound.
	QuietSuccess bool `yaml:"quiet_success,omitempty"`
}

// TelegramMessage holds the data for a backup outcome notification.
type TelegramMessage struct {
	Success    bool
	Cancelled  bool
	RunID      string
	ConfigName string
	NasTarget  string // \\nas\share
	SourcePath string
	StartTime  time.Time
	Duration   time.Duration

	// Process info (if it ran).
	ExitCode *int
	LastLine string

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
