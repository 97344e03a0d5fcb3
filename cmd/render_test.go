package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

func sampleResult() *models.QueryResult {
	cite := func(page int, content string) models.Citation {
		return models.Citation{
			Chunk:      models.Chunk{ID: models.ChunkID("report_2022-23.pdf", page, page-1), Source: "report_2022-23.pdf", Page: page, Content: content},
			Similarity: 0.8,
			FiscalYear: "2022-23",
		}
	}
	return &models.QueryResult{
		RequestID: "req-1",
		Question:  "What is the total income?",
		Answer:    "Total income was **₹500 crore**.",
		Citations: []models.Citation{
			cite(2, "Total income: 500 crore"),
			cite(3, strings.Repeat("a", 30)),
			cite(4, "third"),
		},
	}
}

func testRAGConfig() config.RAGConfig {
	c := config.Default().RAG
	c.MaxCitations = 2
	c.ExcerptChars = 10
	return c
}

func Test_render_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatText, sampleResult(), testRAGConfig()))

	out := buf.String()
	assert.Contains(t, out, "Total income was **₹500 crore**.")
	assert.Contains(t, out, "[report_2022-23.pdf [FY2022-23] - Page 2]")
	assert.Contains(t, out, "aaaaaaaaaa...")
	assert.NotContains(t, out, "Page 4")
}

func Test_render_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatMarkdown, sampleResult(), testRAGConfig()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "## Question\n\nWhat is the total income?\n\n## Answer\n"))
	assert.Contains(t, out, "1. **[report_2022-23.pdf [FY2022-23] - Page 2]**\n\n   > Total inco...\n")
}

func Test_render_HTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatHTML, sampleResult(), testRAGConfig()))
	assert.Contains(t, buf.String(), "<h2>Answer</h2>")
	assert.Contains(t, buf.String(), "<strong>₹500 crore</strong>")
}

func Test_render_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatJSON, sampleResult(), testRAGConfig()))

	var got models.QueryResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Len(t, got.Citations, 3)
}

func Test_render_NoAnswer(t *testing.T) {
	res := sampleResult()
	res.Answer = ""
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatText, res, testRAGConfig()))
	assert.NotContains(t, buf.String(), "Answer")
	assert.Contains(t, buf.String(), "Sources")
}

func Test_validFormat(t *testing.T) {
	assert.True(t, validFormat("json"))
	assert.False(t, validFormat("yaml"))
}

func Test_exportPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.pdf")
	require.NoError(t, exportPDF(path, sampleResult(), testRAGConfig()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}
