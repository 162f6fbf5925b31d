package commands

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mosaicnetworks/valnet/src/manifest"
	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var probe bool

//NewStatusCmd returns the command that lists the validators of the last run
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List the validators recorded in the working directory",
		Long: `List the validators recorded in the working directory by the last run.
The manifest is locked while a network is running; use --probe on a stopped
network to check which validators are still reachable.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlagsLoadViper(cmd)
		},
		RunE: status,
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Query each validator for its peers")

	return cmd
}

func status(cmd *cobra.Command, args []string) error {
	path := filepath.Join(_config.Valnet.DataDir, manifest.DirName)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("No network found in %s", _config.Valnet.DataDir)
	}

	store, err := manifest.Open(path, nil)
	if err != nil {
		return errors.Wrap(err, "opening manifest, is the network still running?")
	}
	defer store.Close()

	records, err := store.Records()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: validator.DefaultHTTPTimeout}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	header := "ID\tNAME\tURL\tPORT\tLEDGER\tSTATUS"
	if probe {
		header += "\tPEERS"
	}
	fmt.Fprintln(w, header)

	for _, r := range records {
		ledger := r.LedgerURL
		if r.Genesis {
			ledger = "genesis"
		}

		line := fmt.Sprintf("%d\t%s\t%s\t%d\t%s\t%s", r.ID, r.Name, r.URL, r.Port, ledger, r.Status)

		if probe {
			peers, err := validator.FetchPeers(client, r.URL)
			if err != nil {
				line += "\tunreachable"
			} else {
				line += fmt.Sprintf("\t%d", len(peers))
			}
		}

		fmt.Fprintln(w, line)
	}

	return nil
}
