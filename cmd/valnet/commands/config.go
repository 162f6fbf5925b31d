package commands

import (
	"github.com/mosaicnetworks/valnet/src/config"
)

//CLIConfig contains configuration for the valnet commands
type CLIConfig struct {
	Valnet   config.Config `mapstructure:",squash"`
	Nodes    int           `mapstructure:"nodes"`
	Expand   int           `mapstructure:"expand"`
	Save     string        `mapstructure:"save"`
	LogFiles bool          `mapstructure:"log-files"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	c := &CLIConfig{
		Valnet: *config.NewDefaultConfig(),
		Nodes:  3,
	}
	c.Valnet.DataDir = config.DefaultDataDir()
	return c
}
