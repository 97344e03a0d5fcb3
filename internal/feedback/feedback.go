package feedback

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"report-rag/internal/models"
)

const (
	Helpful   = "helpful"
	Unhelpful = "unhelpful"
)

var header = []string{"timestamp", "request_id", "question", "answer", "rating"}

// Recorder appends user ratings of answers to a csv file
type Recorder struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, now: time.Now}
}

// Record appends one row. The header is written when the file is new or empty.
func (r *Recorder) Record(result *models.QueryResult, rating string) error {
	if result == nil {
		return fmt.Errorf("no answer to rate")
	}
	if rating != Helpful && rating != Unhelpful {
		return fmt.Errorf("unknown rating %q", rating)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create feedback directory: %w", err)
		}
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	row := []string{
		r.now().UTC().Format(time.RFC3339),
		result.RequestID,
		result.Question,
		result.Answer,
		rating,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write feedback: %w", err)
	}

	log.Debug().Str("request_id", result.RequestID).Str("rating", rating).Msg("Feedback recorded")
	return nil
}

// Summary counts the ratings in the log
func (r *Recorder) Summary() (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback log: %w", err)
	}
	counts := map[string]int{}
	for i, row := range rows {
		if i == 0 || len(row) != len(header) {
			continue
		}
		counts[row[4]]++
	}
	log.Debug().Int("rows", len(rows)).Msg("Feedback log read")
	return counts, nil
}
