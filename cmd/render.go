package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jung-kurt/gofpdf"

	"report-rag/internal/config"
	"report-rag/internal/helper"
	"report-rag/internal/models"
)

const (
	formatText     = "text"
	formatMarkdown = "markdown"
	formatHTML     = "html"
	formatJSON     = "json"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
)

func validFormat(f string) bool {
	switch f {
	case formatText, formatMarkdown, formatHTML, formatJSON:
		return true
	}
	return false
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
}

// shown returns the citations displayed to the user
func shown(result *models.QueryResult, ragCfg config.RAGConfig) []models.Citation {
	if ragCfg.MaxCitations > 0 && len(result.Citations) > ragCfg.MaxCitations {
		return result.Citations[:ragCfg.MaxCitations]
	}
	return result.Citations
}

func render(w io.Writer, format string, result *models.QueryResult, ragCfg config.RAGConfig) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case formatMarkdown:
		_, err := io.WriteString(w, toMarkdown(result, ragCfg))
		return err
	case formatHTML:
		html, err := helper.ConvertToHTML(toMarkdown(result, ragCfg))
		if err != nil {
			return fmt.Errorf("failed to render html: %w", err)
		}
		_, err = fmt.Fprintln(w, html)
		return err
	default:
		renderText(w, result, ragCfg)
		return nil
	}
}

func renderText(w io.Writer, result *models.QueryResult, ragCfg config.RAGConfig) {
	if result.Answer != "" {
		fmt.Fprintln(w, titleStyle.Render("Answer"))
		fmt.Fprintln(w, result.Answer)
	}

	citations := shown(result, ragCfg)
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Sources"))
	for _, c := range citations {
		fmt.Fprintln(w, labelStyle.Render(c.Label()))
		fmt.Fprintln(w, mutedStyle.Render(c.Excerpt(ragCfg.ExcerptChars)))
		fmt.Fprintln(w)
	}
}

func toMarkdown(result *models.QueryResult, ragCfg config.RAGConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Question\n\n%s\n\n", result.Question)
	if result.Answer != "" {
		fmt.Fprintf(&b, "## Answer\n\n%s\n\n", result.Answer)
	}
	citations := shown(result, ragCfg)
	if len(citations) > 0 {
		b.WriteString("## Sources\n\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "%d. **%s**\n\n", i+1, c.Label())
			for _, line := range strings.Split(c.Excerpt(ragCfg.ExcerptChars), "\n") {
				fmt.Fprintf(&b, "   > %s\n", line)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// pdfText maps text to what the core pdf fonts can show
func pdfText(tr func(string) string, s string) string {
	s = strings.ReplaceAll(s, "₹", "Rs. ")
	return tr(s)
}

// exportPDF writes the question, the answer as plain text and the cited
// excerpts to path
func exportPDF(path string, result *models.QueryResult, ragCfg config.RAGConfig) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(result.Question, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.MultiCell(0, 7, pdfText(tr, result.Question), "", "L", false)
	pdf.Ln(4)

	answer := result.Answer
	if answer == "" {
		answer = "No answer could be generated."
	}
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, pdfText(tr, helper.MarkdownToText(answer)), "", "L", false)

	citations := shown(result, ragCfg)
	if len(citations) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, "Sources")
		pdf.Ln(8)
		for _, c := range citations {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.MultiCell(0, 5, pdfText(tr, c.Label()), "", "L", false)
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 5, pdfText(tr, c.Excerpt(ragCfg.ExcerptChars)), "", "L", false)
			pdf.Ln(3)
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
