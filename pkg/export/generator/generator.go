package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"mercator-hq/exporter/pkg/export"
)

// Info describes a registered format.
type Info struct {
	Format      export.Format `json:"name"`
	Description string        `json:"description"`
	MediaType   string        `json:"mediaType"`
	Extension   string        `json:"extension"`

	// SupportsBatch reports whether the format accepts batch jobs.
	SupportsBatch bool `json:"supportsBatch"`

	// ApproxBytesPerRecord is a rough size expectation for one record.
	ApproxBytesPerRecord int64 `json:"approxBytesPerRecord"`
}

// Output is one generated artifact held in memory until it is stored.
type Output struct {
	Data      []byte
	MediaType string
	Extension string
}

// Generator renders analysis records into one output format.
type Generator interface {
	// Info returns the static description of the format.
	Info() Info

	// ParseOptions decodes and validates raw request options into the typed
	// options of this format. Unknown fields are rejected.
	ParseOptions(raw json.RawMessage) (export.Options, error)

	// Export writes records to w.
	Export(ctx context.Context, records []*export.Record, opts export.Options, w io.Writer) error
}

// Generate runs g into a buffer and returns the resulting output.
func Generate(ctx context.Context, g Generator, records []*export.Record, opts export.Options) (*Output, error) {
	info := g.Info()

	var buf bytes.Buffer
	if err := g.Export(ctx, records, opts, &buf); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, export.NewGenerationError(info.Format, len(records), fmt.Errorf("generator produced empty output"))
	}

	return &Output{
		Data:      buf.Bytes(),
		MediaType: info.MediaType,
		Extension: info.Extension,
	}, nil
}

// Registry holds the generators known to the engine, keyed by format.
type Registry struct {
	mu         sync.RWMutex
	generators map[export.Format]Generator
}

// NewRegistry creates a registry with the given generators.
func NewRegistry(generators ...Generator) *Registry {
	r := &Registry{generators: make(map[export.Format]Generator)}
	for _, g := range generators {
		r.Register(g)
	}
	return r
}

// NewDefaultRegistry creates a registry with the document, data and tabular
// generators.
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewDocumentGenerator(), NewDataGenerator(), NewTabularGenerator())
}

// Register adds or replaces the generator for its format.
func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[g.Info().Format] = g
}

// Get returns the generator for format.
func (r *Registry) Get(format export.Format) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[format]
	return g, ok
}

// List returns the info of every registered generator, sorted by format.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.generators))
	for _, g := range r.generators {
		infos = append(infos, g.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Format < infos[j].Format })
	return infos
}

// ParseOptions decodes raw options for format. It fails with a validation
// error when the format is not registered or the options are invalid.
func (r *Registry) ParseOptions(format export.Format, raw json.RawMessage) (export.Options, error) {
	g, ok := r.Get(format)
	if !ok {
		return export.Options{}, export.NewValidationError("format", fmt.Sprintf("format %q is not registered", format))
	}
	return g.ParseOptions(raw)
}
