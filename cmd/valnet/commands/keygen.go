package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/spf13/cobra"
)

var keyFile string

// NewKeygenCmd produces a KeygenCmd which creates an admin key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create an admin key",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlagsLoadViper(cmd)
		},
		RunE: keygen,
	}

	cmd.Flags().StringVar(&keyFile, "out", "", "File where the key will be written, in WIF (default [datadir]/admin.wif)")

	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	if keyFile == "" {
		keyFile = filepath.Join(_config.Valnet.DataDir, identity.DefaultKeyfile)
	}

	admin, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("Error generating admin key: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return fmt.Errorf("Writing admin key: %s", err)
	}

	if err := identity.NewWIFKeyfile(keyFile).WriteAdmin(admin); err != nil {
		return fmt.Errorf("Writing admin key: %s", err)
	}

	fmt.Printf("Your admin key has been saved to: %s\n", keyFile)
	fmt.Printf("Address: %s\n", admin.Address())
	fmt.Printf("Public key: %s\n", admin.PublicKeyHex())

	return nil
}
