package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/valnet/src/config"
	"github.com/mosaicnetworks/valnet/src/network"
	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//NewRunCmd returns the command that launches a network
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [-- validator args]",
		Short:   "Launch a network and keep it running until interrupted",
		PreRunE: loadConfig,
		RunE:    runNetwork,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNetwork(cmd *cobra.Command, args []string) error {
	executable, err := config.FindValidator(_config.Valnet.Validator)
	if err != nil {
		return err
	}

	launcher := &validator.ProcessLauncher{
		Executable: executable,
		Args:       args,
		Logger:     logger(),
	}

	net, err := network.New(&_config.Valnet, launcher)
	if err != nil {
		return err
	}
	defer net.Close()

	logger().WithFields(logrus.Fields{
		"datadir": net.DataDir(),
		"admin":   net.Admin().Address(),
	}).Info("Launching network")

	if err := launch(net); err != nil {
		logger().WithError(err).Error("Launch failed, stopping validators")
		net.Shutdown()
		return err
	}

	for _, s := range net.Status() {
		fmt.Println(s)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	signal.Stop(sigs)

	net.Shutdown()

	if _config.Save == "" {
		return nil
	}

	ok, err := net.CreateResultArchive(_config.Save)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Network state saved to: %s\n", _config.Save)
	}

	return nil
}

func launch(net *network.Network) error {
	nodes, err := net.LaunchNetwork(_config.Nodes)
	if err != nil {
		return err
	}

	if _config.Expand > 0 {
		if _, err := net.ExpandNetwork(nodes, _config.Expand); err != nil {
			return err
		}
	}

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("nodes", "n", _config.Nodes, "Number of validators to launch")
	cmd.Flags().Int("expand", _config.Expand, "Number of validators to add against each validator once the network is up")
	cmd.Flags().String("save", _config.Save, "Archive the working directory here (local path or s3://bucket/key) after shutdown")

	// Validators
	cmd.Flags().String("validator", _config.Valnet.Validator, "Validator executable, overridden by $"+config.ValidatorEnv)
	cmd.Flags().Int("http-port", _config.Valnet.HTTPPort, "Base HTTP port; validator i listens on http-port+i")
	cmd.Flags().Int("udp-port", _config.Valnet.UDPPort, "Base gossip port; validator i listens on udp-port+i")
	cmd.Flags().Bool("manual-launch", _config.Valnet.ManualLaunch, "Write validator configurations and print their command lines instead of starting them")

	// State
	cmd.Flags().String("archive", _config.Valnet.Archive, "Blockchain archive to restore (local path or s3://bucket/key)")
	cmd.Flags().String("admin-key", _config.Valnet.AdminKey, "WIF file holding the admin key; a new key is generated if empty")

	// Timing
	cmd.Flags().Duration("poll-interval", _config.Valnet.PollInterval, "Time between two status polls")
	cmd.Flags().Duration("registration-timeout", _config.Valnet.RegistrationTimeout, "Time allowed for a new network to register")
	cmd.Flags().Duration("expansion-timeout", _config.Valnet.ExpansionTimeout, "Time allowed for added validators to register")
	cmd.Flags().Duration("genesis-timeout", _config.Valnet.GenesisTimeout, "Time allowed for the genesis validator to register, 0 for no limit")
	cmd.Flags().Duration("shutdown-timeout", _config.Valnet.ShutdownTimeout, "Grace period before validators are killed")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	logger().WithFields(logrus.Fields{
		"DataDir":             _config.Valnet.DataDir,
		"Validator":           _config.Valnet.Validator,
		"HTTPPort":            _config.Valnet.HTTPPort,
		"UDPPort":             _config.Valnet.UDPPort,
		"Archive":             _config.Valnet.Archive,
		"AdminKey":            _config.Valnet.AdminKey,
		"LogLevel":            _config.Valnet.LogLevel,
		"PollInterval":        _config.Valnet.PollInterval,
		"RegistrationTimeout": _config.Valnet.RegistrationTimeout,
		"ExpansionTimeout":    _config.Valnet.ExpansionTimeout,
		"GenesisTimeout":      _config.Valnet.GenesisTimeout,
		"ShutdownTimeout":     _config.Valnet.ShutdownTimeout,
		"ManualLaunch":        _config.Valnet.ManualLaunch,
		"Nodes":               _config.Nodes,
		"Expand":              _config.Expand,
		"Save":                _config.Save,
	}).Debug("RUN")

	return nil
}
