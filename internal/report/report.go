// Package report provides the JSON results file written after a ranking run.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"walnut-pair/internal/similarity"
)

// FormatVersion is the current report layout.
const FormatVersion = 2

// Pair is one ranked pair as stored in the report. Key is "<a>--<b>" for
// display only; A and B are authoritative since ids may contain "--".
type Pair struct {
	Key    string  `json:"key"`
	A      string  `json:"a"`
	B      string  `json:"b"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
	Metric string  `json:"metric"`
}

// File is a ranking results file. Pairs are listed in rank order.
type File struct {
	Version  int       `json:"version"`
	RunID    string    `json:"run_id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Image root (relative to the report file)
	ImageRoot string `json:"image_root,omitempty"`

	ExtractorVersion string            `json:"extractor_version,omitempty"`
	Walnuts          int               `json:"walnuts"`
	Excluded         map[string]string `json:"excluded,omitempty"` // id -> reason
	Pairs            []Pair            `json:"pairs"`
}

// New creates an empty report for a run.
func New(runID string) *File {
	now := time.Now()
	return &File{
		Version:  FormatVersion,
		RunID:    runID,
		Created:  now,
		Modified: now,
		Pairs:    []Pair{},
	}
}

// SetRecords replaces the pairs with records, ranked in the given order.
func (f *File) SetRecords(records []similarity.Record) {
	f.Pairs = make([]Pair, len(records))
	for i, r := range records {
		f.Pairs[i] = Pair{Key: r.Key(), A: r.A, B: r.B, Rank: i + 1, Score: r.Score, Metric: r.Metric.String()}
	}
	f.Modified = time.Now()
}

// Exclude records a walnut that was dropped from the run.
func (f *File) Exclude(id string, reason error) {
	if f.Excluded == nil {
		f.Excluded = make(map[string]string)
	}
	f.Excluded[id] = reason.Error()
	f.Modified = time.Now()
}

// Records returns the pairs in rank order.
func (f *File) Records() ([]similarity.Record, error) {
	pairs := append([]Pair(nil), f.Pairs...)
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Rank < pairs[j].Rank })

	recs := make([]similarity.Record, len(pairs))
	for i, p := range pairs {
		if p.A == "" || p.B == "" {
			return nil, fmt.Errorf("pair %d (%q) is missing a walnut id", p.Rank, p.Key)
		}
		m, err := similarity.ParseMetric(p.Metric)
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.Key, err)
		}
		recs[i] = similarity.Record{A: p.A, B: p.B, Score: p.Score, Metric: m}
	}
	return recs, nil
}

// Load loads a report file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Pairs == nil {
		f.Pairs = []Pair{}
	}
	return &f, nil
}

// Save writes the report.
func (f *File) Save(path string) error {
	f.Modified = time.Now()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetImageRoot stores the image root relative to the report.
func (f *File) SetImageRoot(reportPath, root string) {
	rel, err := filepath.Rel(filepath.Dir(reportPath), root)
	if err != nil {
		f.ImageRoot = root
	} else {
		f.ImageRoot = rel
	}
	f.Modified = time.Now()
}

// GetImageRoot returns the absolute image root.
func (f *File) GetImageRoot(reportPath string) string {
	if f.ImageRoot == "" {
		return ""
	}
	if filepath.IsAbs(f.ImageRoot) {
		return f.ImageRoot
	}
	return filepath.Join(filepath.Dir(reportPath), f.ImageRoot)
}
