package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"report-rag/internal/config"
	"report-rag/internal/feedback"
	"report-rag/internal/models"
	"report-rag/internal/rag"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Start an interactive session. Every line is a question.

Commands:
  /helpful     record that the last answer was helpful
  /unhelpful   record that the last answer was not helpful
  /quit        leave the session`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

type questioner interface {
	Query(ctx context.Context, question string, k int) (*models.QueryResult, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer p.close()

	recorder := feedback.NewRecorder(cfg.Feedback.Path)
	return chatLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), p.rag, recorder, cfg.RAG)
}

// chatLoop reads questions until /quit or end of input. Failed questions are
// reported and the loop goes on.
func chatLoop(ctx context.Context, input io.Reader, out io.Writer, q questioner, recorder *feedback.Recorder, ragCfg config.RAGConfig) error {
	// lines are read whole, a pasted question may be of any length
	in := bufio.NewReader(input)
	var last *models.QueryResult

	fmt.Fprintln(out, titleStyle.Render("Ask a question about the reports (/quit to exit)"))
	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		raw, err := in.ReadString('\n')
		if raw == "" && err != nil {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line := strings.TrimSpace(raw)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/helpful", "/unhelpful":
			rate(out, recorder, last, strings.TrimPrefix(line, "/"))
			continue
		}

		result, err := q.Query(ctx, line, 0)
		if err != nil {
			printError(out, err)
			// citations are still shown when only generation failed
			if !errors.Is(err, rag.ErrGeneration) {
				continue
			}
		}
		if renderErr := render(out, formatText, result, ragCfg); renderErr != nil {
			printError(out, renderErr)
		}
		last = result
	}
}

func rate(out io.Writer, recorder *feedback.Recorder, last *models.QueryResult, rating string) {
	if err := recorder.Record(last, rating); err != nil {
		printError(out, err)
		return
	}
	fmt.Fprintln(out, mutedStyle.Render("Thanks, feedback recorded."))
}
