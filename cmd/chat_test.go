package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/feedback"
	"report-rag/internal/models"
	"report-rag/internal/rag"
)

type scriptedRAG struct {
	questions []string
}

func (s *scriptedRAG) Query(ctx context.Context, question string, k int) (*models.QueryResult, error) {
	s.questions = append(s.questions, question)
	switch question {
	case "fail":
		res := sampleResult()
		res.Question = question
		res.Answer = ""
		return res, fmt.Errorf("%w: upstream 503", rag.ErrGeneration)
	case "broken":
		return nil, errors.New("similarity search failed")
	}
	res := sampleResult()
	res.Question = question
	return res, nil
}

func Test_chatLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	recorder := feedback.NewRecorder(path)
	q := &scriptedRAG{}

	input := strings.Join([]string{
		"/helpful",
		"What is the total income?",
		"",
		"fail",
		"broken",
		"/unhelpful",
		"/quit",
		"never asked",
	}, "\n")

	var out bytes.Buffer
	err := chatLoop(context.Background(), strings.NewReader(input), &out, q, recorder, testRAGConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"What is the total income?", "fail", "broken"}, q.questions)
	text := out.String()
	assert.Contains(t, text, "Error: no answer to rate")
	assert.Contains(t, text, "could not generate an answer: upstream 503")
	assert.Contains(t, text, "similarity search failed")
	assert.Contains(t, text, "feedback recorded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	// the failed generation is the last shown answer
	assert.Contains(t, lines[1], ",fail,")
	assert.True(t, strings.HasSuffix(lines[1], ",unhelpful"))
}

func Test_chatLoop_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	err := chatLoop(context.Background(), strings.NewReader("What is the total income?"), &out, &scriptedRAG{}, feedback.NewRecorder(filepath.Join(t.TempDir(), "f.csv")), testRAGConfig())
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "Sources")
}

func Test_chatLoop_LongQuestion(t *testing.T) {
	long := strings.Repeat("total income ", 20000) // well past 64 KiB
	q := &scriptedRAG{}
	input := long + "\nWhat is the total income?\n/quit\n"

	var out bytes.Buffer
	err := chatLoop(context.Background(), strings.NewReader(input), &out, q, feedback.NewRecorder(filepath.Join(t.TempDir(), "f.csv")), testRAGConfig())
	require.NoError(t, err)
	require.Len(t, q.questions, 2)
	assert.Equal(t, strings.TrimSpace(long), q.questions[0])
	assert.Equal(t, "What is the total income?", q.questions[1])
}
