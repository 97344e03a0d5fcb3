package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"report-rag/internal/embedding"
	"report-rag/internal/helper"
	"report-rag/internal/ingest"
)

var (
	ingestDir string
	dryRun    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the index from the report directory",
	Long: `Parse every supported file of the report directory, split it into
overlapping chunks, embed them and rebuild the similarity index.

The previous index is replaced. With --dry-run the chunks are printed and
nothing is embedded or stored.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "Directory with the reports (default data_dir)")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and chunk only, do not save to the index")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := ingestDir
	if dir == "" {
		dir = cfg.DataDir
	}

	if dryRun {
		ing, err := ingest.NewIngester(cfg, nil, nil)
		if err != nil {
			return err
		}
		corpus, err := ing.Load(dir)
		if err != nil {
			return err
		}
		helper.PrettyPrint(corpus)
		return nil
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embedding)
	if err != nil {
		return fmt.Errorf("error initializing embedder: %w", err)
	}
	store, err := openStore(cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	var opts []ingest.Option
	if cfg.RAG.KeywordIndex != "" {
		opts = append(opts, ingest.WithKeywordIndexPath(cfg.RAG.KeywordIndex))
	}

	ing, err := ingest.NewIngester(cfg, embedder, store, opts...)
	if err != nil {
		return err
	}
	manifest, corpus, err := ing.Run(cmd.Context(), dir)
	if err != nil {
		return err
	}

	for _, name := range corpus.Skipped {
		log.Warn().Str("file", name).Msg("Skipped")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d documents with %s (%d dimensions)\n",
		manifest.Chunks, len(manifest.Documents), manifest.EmbeddingModel, manifest.Dimension)
	return nil
}
