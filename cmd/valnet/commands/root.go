package commands

import (
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/valnet/src/config"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	_config = NewDefaultCLIConfig()
)

func init() {
	RootCmd.PersistentFlags().String("datadir", _config.Valnet.DataDir, "Working directory of the network")
	RootCmd.PersistentFlags().String("log", _config.Valnet.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.PersistentFlags().Bool("log-files", _config.LogFiles, "Also write info and debug logs to files in the working directory")
}

//RootCmd is the root command for valnet
var RootCmd = &cobra.Command{
	Use:              "valnet",
	Short:            "Launch and manage networks of validators",
	TraverseChildren: true,
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// cmd.Flags() includes flags from this command and all persistent flags
	// from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/valnet.toml (.json, .yaml also work)
	viper.SetConfigName("valnet")
	viper.AddConfigPath(_config.Valnet.DataDir)

	found := false
	if err := viper.ReadInConfig(); err == nil {
		found = true
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	_config.Valnet.SetLogger(newLogger())

	if found {
		logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else {
		logger().Debugf("No config file found in: %s", _config.Valnet.DataDir)
	}

	return nil
}

func logger() *logrus.Entry {
	return _config.Valnet.Logger()
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Level = config.LogLevel(_config.Valnet.LogLevel)
	l.Formatter = new(prefixed.TextFormatter)

	if !_config.LogFiles {
		return l
	}

	if err := os.MkdirAll(_config.Valnet.DataDir, 0700); err != nil {
		l.WithError(err).Warn("Cannot create log directory, using stderr only")
		return l
	}

	pathMap := lfshook.PathMap{
		logrus.InfoLevel:  filepath.Join(_config.Valnet.DataDir, "valnet_info.log"),
		logrus.WarnLevel:  filepath.Join(_config.Valnet.DataDir, "valnet_info.log"),
		logrus.ErrorLevel: filepath.Join(_config.Valnet.DataDir, "valnet_info.log"),
		logrus.DebugLevel: filepath.Join(_config.Valnet.DataDir, "valnet_debug.log"),
	}

	l.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return l
}
