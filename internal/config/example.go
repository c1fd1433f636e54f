package config

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"gopkg.in/yaml.v3"
)

var sectionComments = map[string]string{
	"storage":      "Where configurations.json and the last used pointer live.",
	"executable":   "The backup program started for every run.",
	"wol":          "Optional: wake the NAS before the backup starts.",
	"ssh_shutdown": "Optional: power the NAS off after a successful backup.",
	"telegram":     "Optional: report every run outcome to a Telegram chat.",
}

// Example returns a starting configuration for this OS.
func Example() models.AppConfig {
	exe := models.ExecutableConfig{
		Path: "/usr/local/bin/nas-backup.sh",
		Args: models.ArgumentNames{
			NasAddress:  "-NasAddress",
			ShareName:   "-ShareName",
			SourcePath:  "-SourcePath",
			ArchivePath: "-ArchivePath",
			Compress:    "-Compress",
		},
		CancelGrace: 10 * time.Second,
	}
	if runtime.GOOS == "windows" {
		exe.Path = `C:\nas-backup\BackupScript.ps1`
		exe.Interpreter = "powershell.exe"
		exe.InterpreterArgs = []string{"-ExecutionPolicy", "Bypass", "-File"}
	}

	return models.AppConfig{
		Storage:    models.StorageConfig{Dir: DefaultStorageDir()},
		Executable: exe,
		WOL: &models.WOLConfig{
			MACAddress:   "AA:BB:CC:DD:EE:FF",
			BroadcastIP:  "192.168.1.255",
			Port:         9,
			ProbePort:    445,
			Timeout:      5 * time.Minute,
			PollInterval: 10 * time.Second,
			SettleTime:   10 * time.Second,
		},
		SSHShutdown: &models.SSHShutdownConfig{
			Port:     22,
			Username: "admin",
			KeyPath:  "~/.ssh/id_ed25519",
			Delay:    time.Minute,
			Platform: models.PlatformLinux,
		},
		Telegram: &models.TelegramConfig{
			BotToken: "${TELEGRAM_BOT_TOKEN}",
			ChatID:   "${TELEGRAM_CHAT_ID}",
		},
	}
}

// WriteExample writes cfg as YAML that LoadFile reads back.
func WriteExample(w io.Writer, cfg models.AppConfig) error {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	annotate(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return enc.Close()
}

// annotate puts a comment above each top-level section.
func annotate(n *yaml.Node) {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if c, ok := sectionComments[n.Content[i].Value]; ok {
			n.Content[i].HeadComment = c
		}
	}
}
