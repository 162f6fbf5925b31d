package commands

import "time"

//CLIConfig contains configuration for the dummy validator
type CLIConfig struct {
	Config       string        `mapstructure:"config"`
	LogLevel     string        `mapstructure:"log"`
	SyncInterval time.Duration `mapstructure:"sync-interval"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		LogLevel:     "info",
		SyncInterval: 200 * time.Millisecond,
	}
}
