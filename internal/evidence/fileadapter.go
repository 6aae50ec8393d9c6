package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileAdapter serves candidates from a local JSON file: an array of raw
// candidates, each tagged with a symbol. Meant for local runs and replay,
// where a feed fixture stands in for live sources.
type FileAdapter struct {
	path string
}

func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

type fileCandidate struct {
	Symbol string `json:"symbol"`
	RawEvidenceCandidate
}

func (a *FileAdapter) Name() string { return "file" }

// Fetch re-reads the file on every call so a fixture can be edited while
// watching. Candidates published after the window close are held back;
// older ones are kept since late evidence still explains a move.
func (a *FileAdapter) Fetch(_ context.Context, symbol string, window TimeRange) ([]RawEvidenceCandidate, error) {
	b, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read evidence file %s: %w", a.path, err)
	}
	var entries []fileCandidate
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse evidence file %s: %w", a.path, err)
	}

	var out []RawEvidenceCandidate
	for _, entry := range entries {
		if entry.Symbol != symbol {
			continue
		}
		if !entry.PublishedAt.IsZero() && entry.PublishedAt.After(window.To) {
			continue
		}
		out = append(out, entry.RawEvidenceCandidate)
	}
	return out, nil
}
