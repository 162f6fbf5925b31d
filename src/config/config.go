package config

import (
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/mosaicnetworks/valnet/src/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default configuration values.
const (
	DefaultLogLevel            = "info"
	DefaultValidator           = "txnvalidator"
	DefaultHTTPPort            = 8800
	DefaultUDPPort             = 8900
	DefaultPollInterval        = 1 * time.Second
	DefaultRegistrationTimeout = 120 * time.Second
	DefaultExpansionTimeout    = 240 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultGenesisTimeout      = 0
	DefaultReapDelay           = 5 * time.Second
)

// ValidatorEnv is the environment variable consulted by FindValidator.
const ValidatorEnv = "VALNET_VALIDATOR"

// DefaultTemplate returns the options passed to every validator unless they
// are overridden.
func DefaultTemplate() map[string]interface{} {
	return map[string]interface{}{
		"CertificateSampleLength": 5,
		"InitialWaitTime":         25.0,
		"LedgerType":              "lottery",
		"LogLevel":                "WARNING",
		"MaxTransactionsPerBlock": 1000,
		"MinTransactionsPerBlock": 1,
		"MinimumWaitTime":         1.0,
		"NetworkBurstRate":        128000,
		"NetworkDelayRange":       []interface{}{0.0, 0.1},
		"NetworkFlowRate":         96000,
		"Restore":                 false,
		"TargetConnectivity":      3,
		"TargetWaitTime":          5.0,
		"TopologyAlgorithm":       "RandomWalk",
		"TransactionFamilies":     []interface{}{"ledger.transaction.integer_key"},
		"UseFixedDelay":           true,
	}
}

// Config contains all the configuration properties of a validator network.
type Config struct {
	// DataDir is the working directory where all validator state is written.
	// If empty, a temporary directory is created, and deleted on Close.
	DataDir string `mapstructure:"datadir"`

	// Validator is the path of the validator executable.
	Validator string `mapstructure:"validator"`

	// HTTPPort is the base of the validators' HTTP ports. Validator i listens
	// on HTTPPort+i.
	HTTPPort int `mapstructure:"http-port"`

	// UDPPort is the base of the validators' gossip ports. Validator i listens
	// on UDPPort+i.
	UDPPort int `mapstructure:"udp-port"`

	// Archive is an optional blockchain archive, local or s3://, restored into
	// DataDir before the genesis validator starts.
	Archive string `mapstructure:"archive"`

	// AdminKey is an optional WIF file containing the admin key. A new key is
	// generated when empty.
	AdminKey string `mapstructure:"admin-key"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// PollInterval is the pause between two status polls in every wait loop.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// RegistrationTimeout bounds the wait for validators of a new network to
	// register.
	RegistrationTimeout time.Duration `mapstructure:"registration-timeout"`

	// ExpansionTimeout bounds the wait for validators added to a live network
	// to register.
	ExpansionTimeout time.Duration `mapstructure:"expansion-timeout"`

	// GenesisTimeout bounds the wait for the genesis validator. Zero means
	// wait until it registers or fails.
	GenesisTimeout time.Duration `mapstructure:"genesis-timeout"`

	// ShutdownTimeout is the grace period given to validators to stop after a
	// shutdown request, before they are killed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`

	// ReapDelay is the pause after killing validators on platforms where the
	// death of a process is observed asynchronously.
	ReapDelay time.Duration `mapstructure:"reap-delay"`

	// ManualLaunch writes the validators' configuration without starting
	// them. The command lines are logged so they can be started by hand.
	ManualLaunch bool `mapstructure:"manual-launch"`

	// Template holds the options passed through to every validator.
	Template map[string]interface{} `mapstructure:"template"`

	// Clock drives every wait loop. Tests replace it with a fake.
	Clock clock.Clock `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Validator:           DefaultValidator,
		HTTPPort:            DefaultHTTPPort,
		UDPPort:             DefaultUDPPort,
		LogLevel:            DefaultLogLevel,
		PollInterval:        DefaultPollInterval,
		RegistrationTimeout: DefaultRegistrationTimeout,
		ExpansionTimeout:    DefaultExpansionTimeout,
		GenesisTimeout:      DefaultGenesisTimeout,
		ShutdownTimeout:     DefaultShutdownTimeout,
		ReapDelay:           DefaultReapDelay,
		Template:            DefaultTemplate(),
		Clock:               clock.NewClock(),
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetLogger replaces the logger returned by Logger.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// Logger returns a formatted logrus Entry, with prefix set to "valnet".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "valnet")
}

// GetClock returns the configured clock, falling back to the real one.
func (c *Config) GetClock() clock.Clock {
	if c.Clock == nil {
		c.Clock = clock.NewClock()
	}
	return c.Clock
}

// FindValidator resolves the validator executable. The ValidatorEnv variable
// takes precedence over the configured value, which is looked up in PATH when
// it is not a path itself.
func FindValidator(configured string) (string, error) {
	if env := os.Getenv(ValidatorEnv); env != "" {
		configured = env
	}

	if configured == "" {
		configured = DefaultValidator
	}

	p, err := exec.LookPath(configured)
	if err != nil {
		return "", errors.Wrapf(err, "validator executable %s", configured)
	}

	return filepath.Abs(p)
}

// DefaultDataDir return the default directory name for persistent networks
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Valnet")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Valnet")
		} else {
			return filepath.Join(home, ".valnet")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
