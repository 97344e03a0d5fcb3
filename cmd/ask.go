package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"report-rag/internal/rag"
)

var (
	topK      int
	outFormat string
	pdfOut    string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question",
	Long: `Answer a question from the indexed reports.

Examples:
  report-rag ask "What was the total income in 2022-23?"
  report-rag ask --top-k 12 --format markdown "RIDF disbursements between 2019-20 and 2021-22"
  report-rag ask --pdf answer.pdf "How many KCCs were issued?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default rag.top_k)")
	askCmd.Flags().StringVarP(&outFormat, "format", "f", formatText, "Output format: text, markdown, html or json")
	askCmd.Flags().StringVar(&pdfOut, "pdf", "", "Also write the answer to this pdf file")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if !validFormat(outFormat) {
		return fmt.Errorf("unsupported format %q", outFormat)
	}

	p, err := newPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer p.close()

	question := strings.Join(args, " ")
	result, err := p.rag.Query(cmd.Context(), question, topK)
	if errors.Is(err, rag.ErrGeneration) {
		printError(cmd.ErrOrStderr(), err)
	} else if err != nil {
		return err
	}

	if err := render(cmd.OutOrStdout(), outFormat, result, cfg.RAG); err != nil {
		return err
	}
	if pdfOut != "" {
		if err := exportPDF(pdfOut, result, cfg.RAG); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Answer written to %s\n", pdfOut)
	}
	return nil
}
