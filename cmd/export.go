package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"report-rag/internal/chromemdb"
	"report-rag/internal/config"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the index to a single encrypted file",
	Long: `Write the chromem collection to one encrypted file that can be copied to
another machine. The 32 byte key is read from the environment variable named
by store.encryption_key_env.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if cfg.Store.Backend != config.BackendChromem {
		return fmt.Errorf("export is only available for the %s backend", config.BackendChromem)
	}

	store, err := chromemdb.NewStore(cfg.Store, nil)
	if err != nil {
		return err
	}
	n, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("nothing to export: run `report-rag ingest` first")
	}

	key := os.Getenv(cfg.Store.EncryptionKeyEnv)
	if err := store.Export(cmd.Context(), exportOut, key, cfg.Store.Compress); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d chunks to %s\n", n, exportOut)
	return nil
}
