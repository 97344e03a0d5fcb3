package rag

import (
	"fmt"
	"strings"

	"report-rag/internal/models"
)

// sourceHeader labels a chunk in the prompt context
func sourceHeader(i int, c models.Citation) string {
	year := ""
	if c.FiscalYear != "" {
		year = " [FY" + c.FiscalYear + "]"
	}
	return fmt.Sprintf("--- Source %d: %s%s (Page %s) ---", i, c.Source, year, models.PageLabel(c.Page))
}

// buildContext joins the citations under their headers until the token
// budget is spent. The first citation is always included. It returns the
// context and the number of citations used.
func (r *RAG) buildContext(citations []models.Citation) (string, int) {
	budget := r.cfg.RAG.MaxContextTokens
	var sections []string
	spent := 0
	for i, c := range citations {
		section := sourceHeader(i+1, c) + "\n" + c.Content + "\n"
		cost := r.tokens.Count(section)
		if budget > 0 && len(sections) > 0 && spent+cost > budget {
			break
		}
		sections = append(sections, section)
		spent += cost
	}
	return strings.Join(sections, "\n\n"), len(sections)
}

func (r *RAG) buildPrompt(question string, citations []models.Citation) (string, int, error) {
	text, used := r.buildContext(citations)
	prompt, err := r.prompt.Format(map[string]any{
		"fallback": models.NoInformationAnswer,
		"context":  text,
		"question": question,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to format prompt: %w", err)
	}
	return prompt, used, nil
}
