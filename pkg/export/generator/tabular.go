package generator

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// DefaultColumns is the column set used when none is requested.
var DefaultColumns = []string{"id", "title", "source", "verdict", "score", "analyzedAt", "findings", "maxSeverity"}

// TabularGenerator renders a one-row-per-record CSV summary.
type TabularGenerator struct{}

// NewTabularGenerator creates a new CSV generator.
func NewTabularGenerator() *TabularGenerator {
	return &TabularGenerator{}
}

// Info implements Generator.
func (g *TabularGenerator) Info() Info {
	return Info{
		Format:               export.FormatTabular,
		Description:          "Tabular CSV summary with one row per record",
		MediaType:            "text/csv",
		Extension:            ".csv",
		SupportsBatch:        true,
		ApproxBytesPerRecord: 256,
	}
}

// ParseOptions implements Generator.
func (g *TabularGenerator) ParseOptions(raw json.RawMessage) (export.Options, error) {
	in := struct {
		commonOptions
		export.TabularOptions
	}{
		TabularOptions: export.TabularOptions{Header: true},
	}
	if err := decodeOptions(raw, &in); err != nil {
		return export.Options{}, err
	}
	if _, err := parseDelimiter(in.Delimiter); err != nil {
		return export.Options{}, err
	}

	tab := in.TabularOptions
	return export.Options{SplitPerRecord: in.SplitPerRecord, Tabular: &tab}, nil
}

// Export writes records to w in CSV format. Nested findings are flattened
// into a count and the highest severity.
func (g *TabularGenerator) Export(ctx context.Context, records []*export.Record, opts export.Options, w io.Writer) error {
	o := export.TabularOptions{Header: true}
	if opts.Tabular != nil {
		o = *opts.Tabular
	}

	delim, err := parseDelimiter(o.Delimiter)
	if err != nil {
		return export.NewGenerationError(export.FormatTabular, len(records), err)
	}
	columns := o.Columns
	if len(columns) == 0 {
		columns = DefaultColumns
	}

	writer := csv.NewWriter(w)
	writer.Comma = delim

	if o.Header {
		if err := writer.Write(columns); err != nil {
			return export.NewGenerationError(export.FormatTabular, len(records), err)
		}
	}

	for i, record := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return export.NewGenerationError(export.FormatTabular, len(records), err)
			}
		}
		row, err := recordToRow(record, columns)
		if err != nil {
			return export.NewGenerationError(export.FormatTabular, len(records), err)
		}
		if err := writer.Write(row); err != nil {
			return export.NewGenerationError(export.FormatTabular, len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return export.NewGenerationError(export.FormatTabular, len(records), err)
	}
	return nil
}

// recordToRow converts a record to a CSV row in column order.
func recordToRow(record *export.Record, columns []string) ([]string, error) {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}

	row := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "id":
			row = append(row, record.ID)
		case "title":
			row = append(row, record.Title)
		case "source":
			row = append(row, record.Source)
		case "verdict":
			row = append(row, record.Verdict)
		case "score":
			row = append(row, strconv.FormatFloat(record.Score, 'f', 4, 64))
		case "analyzedAt":
			row = append(row, formatTime(record.AnalyzedAt))
		case "findings":
			row = append(row, strconv.Itoa(len(record.Findings)))
		case "maxSeverity":
			row = append(row, maxSeverity(record.Findings))
		default:
			return nil, fmt.Errorf("unknown column %q", col)
		}
	}
	return row, nil
}
