package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// MemorySource serves records from an in-memory map. It backs tests and
// standalone deployments that load fixtures from a JSON file.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string]*export.Record
}

// NewMemorySource creates a source holding records.
func NewMemorySource(records ...*export.Record) *MemorySource {
	s := &MemorySource{records: make(map[string]*export.Record)}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// LoadFile reads a JSON array of records from path.
func LoadFile(path string) (*MemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	var records []*export.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}
	return NewMemorySource(records...), nil
}

// Put adds or replaces a record.
func (s *MemorySource) Put(record *export.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *record
	s.records[record.ID] = &c
}

// Len returns the number of records held.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Fetch implements export.RecordSource.
func (s *MemorySource) Fetch(ctx context.Context, id string) (*export.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, export.NewRetrievalError(id, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, export.NewRetrievalError(id, export.ErrRecordNotFound)
	}
	c := *r
	return &c, nil
}

// SampleRecords returns a small fixture set used by the default standalone
// configuration.
func SampleRecords() []*export.Record {
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	return []*export.Record{
		{
			ID:         "a1",
			Title:      "Quarterly invoice",
			Source:     "upload",
			Verdict:    "suspicious",
			Score:      0.81,
			AnalyzedAt: base,
			Findings: []export.Finding{
				{Category: "tampering", Severity: "high", Description: "Embedded metadata contradicts creation date", Confidence: 0.91},
				{Category: "format", Severity: "low", Description: "Non-standard encoder signature", Confidence: 0.42},
			},
			Metadata: map[string]string{"pages": "3"},
		},
		{
			ID:         "a2",
			Title:      "Identity document",
			Source:     "api",
			Verdict:    "clean",
			Score:      0.07,
			AnalyzedAt: base.Add(2 * time.Hour),
		},
		{
			ID:         "a3",
			Title:      "Product photo",
			Source:     "crawler",
			Verdict:    "manipulated",
			Score:      0.96,
			AnalyzedAt: base.Add(26 * time.Hour),
			Findings: []export.Finding{
				{Category: "splicing", Severity: "critical", Description: "Cloned region detected in lower quadrant", Confidence: 0.97},
			},
		},
	}
}
