package generator

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// DataGenerator renders records as JSON.
type DataGenerator struct {
	now func() time.Time
}

// NewDataGenerator creates a new JSON generator.
func NewDataGenerator() *DataGenerator {
	return &DataGenerator{now: time.Now}
}

// Info implements Generator.
func (g *DataGenerator) Info() Info {
	return Info{
		Format:               export.FormatData,
		Description:          "Machine-readable JSON containing every record and finding",
		MediaType:            "application/json",
		Extension:            ".json",
		SupportsBatch:        true,
		ApproxBytesPerRecord: 2 * 1024,
	}
}

// ParseOptions implements Generator.
func (g *DataGenerator) ParseOptions(raw json.RawMessage) (export.Options, error) {
	in := struct {
		commonOptions
		export.DataOptions
	}{
		DataOptions: export.DataOptions{IncludeMetadata: true},
	}
	if err := decodeOptions(raw, &in); err != nil {
		return export.Options{}, err
	}

	data := in.DataOptions
	return export.Options{SplitPerRecord: in.SplitPerRecord, Data: &data}, nil
}

type dataEnvelope struct {
	ExportedAt  time.Time        `json:"exportedAt"`
	RecordCount int              `json:"recordCount"`
	Records     []*export.Record `json:"records"`
}

// Export writes records as JSON. With IncludeMetadata the records are
// wrapped in an envelope carrying the export time and count; otherwise a
// single record is written as an object and several as an array.
func (g *DataGenerator) Export(ctx context.Context, records []*export.Record, opts export.Options, w io.Writer) error {
	o := export.DataOptions{IncludeMetadata: true}
	if opts.Data != nil {
		o = *opts.Data
	}

	if err := ctx.Err(); err != nil {
		return export.NewGenerationError(export.FormatData, len(records), err)
	}

	var payload any
	switch {
	case o.IncludeMetadata:
		if records == nil {
			records = []*export.Record{}
		}
		payload = dataEnvelope{
			ExportedAt:  g.now().UTC(),
			RecordCount: len(records),
			Records:     records,
		}
	case len(records) == 1:
		payload = records[0]
	default:
		if records == nil {
			records = []*export.Record{}
		}
		payload = records
	}

	var data []byte
	var err error
	if o.Pretty {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return export.NewGenerationError(export.FormatData, len(records), err)
	}

	if _, err := w.Write(data); err != nil {
		return export.NewGenerationError(export.FormatData, len(records), err)
	}
	return nil
}
