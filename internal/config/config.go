package config

import (
	"encoding/json"
	"os"
)

// Config holds the runtime settings shared by the run and watch commands.
type Config struct {
	LogLevel    string `json:"log_level"`
	ChunkSize   int    `json:"chunk_size"`
	EventBuffer int    `json:"event_buffer"`
	Buffer      string `json:"buffer"`
	KillSignal  string `json:"kill_signal"`
	RecordPath  string `json:"record_path"`
}

// Load reads the config file at configPath, falling back to the
// SPAWNIO_CONFIG_PATH environment variable and then to ./spawnio.json.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		ChunkSize:   8192,
		EventBuffer: 1024,
		Buffer:      "none",
		KillSignal:  "SIGTERM",
	}

	if configPath == "" {
		configPath = os.Getenv("SPAWNIO_CONFIG_PATH")
		if configPath == "" {
			configPath = "spawnio.json"
		}
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
