package commands

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/valnet/src/archive"
	"github.com/spf13/cobra"
)

//NewExportCmd returns the command that archives the working directory of a
//stopped network
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [output]",
		Short: "Archive the working directory of a stopped network",
		Long: `Pack the working directory into a tar.gz archive that can be restored
with run --archive. The output is a local path or an s3://bucket/key URL.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlagsLoadViper(cmd)
		},
		RunE: export,
	}

	return cmd
}

func export(cmd *cobra.Command, args []string) error {
	output := args[0]

	ok, err := archive.ExportTo(context.Background(), _config.Valnet.DataDir, output)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("No working directory at %s", _config.Valnet.DataDir)
	}

	fmt.Printf("Network state saved to: %s\n", output)

	return nil
}
