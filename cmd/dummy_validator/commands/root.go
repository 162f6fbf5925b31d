package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/valnet/src/config"
	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/mosaicnetworks/valnet/src/validator/dummy"
	"github.com/mosaicnetworks/valnet/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	_config = NewDefaultCLIConfig()
	logger  *logrus.Logger
)

func init() {
	RootCmd.Flags().String("config", _config.Config, "Validator configuration file, written by valnet")
	RootCmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.Flags().Duration("sync-interval", _config.SyncInterval, "Time between two peer list merges with the ledger validator")
}

//RootCmd is the root command for the dummy validator
var RootCmd = &cobra.Command{
	Use:     "dummy_validator",
	Short:   "Validator stand-in speaking the valnet HTTP API",
	Version: version.Version,
	PreRunE: loadConfig,
	RunE:    runDummy,
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runDummy(cmd *cobra.Command, args []string) error {
	cfg, err := validator.ReadConfig(_config.Config)
	if err != nil {
		return fmt.Errorf("Reading validator config: %v", err)
	}

	service := dummy.NewService(cfg, logger.WithField("prefix", "dummy"))
	service.SetSyncInterval(_config.SyncInterval)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.WithField("signal", sig).Info("Stopping")
		service.Shutdown()
	}()

	return service.Serve()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	if _config.Config == "" {
		return fmt.Errorf("--config is required")
	}

	logger = logrus.New()
	logger.Level = config.LogLevel(_config.LogLevel)

	logger.WithFields(logrus.Fields{
		"config":        _config.Config,
		"log":           _config.LogLevel,
		"sync-interval": _config.SyncInterval,
	}).Debug("RUN")

	return nil
}
