package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"mercator-hq/exporter/pkg/export"
)

var severityRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// maxSeverity returns the highest severity among findings, or "" if none.
func maxSeverity(findings []export.Finding) string {
	best := ""
	for _, f := range findings {
		s := strings.ToLower(f.Severity)
		if severityRank[s] > severityRank[best] {
			best = s
		}
	}
	return best
}

// DocumentGenerator renders a Markdown report.
type DocumentGenerator struct {
	now func() time.Time
}

// NewDocumentGenerator creates a new report generator.
func NewDocumentGenerator() *DocumentGenerator {
	return &DocumentGenerator{now: time.Now}
}

// Info implements Generator.
func (g *DocumentGenerator) Info() Info {
	return Info{
		Format:               export.FormatDocument,
		Description:          "Structured Markdown report with summary and per-record findings",
		MediaType:            "text/markdown; charset=utf-8",
		Extension:            ".md",
		SupportsBatch:        true,
		ApproxBytesPerRecord: 4 * 1024,
	}
}

// ParseOptions implements Generator.
func (g *DocumentGenerator) ParseOptions(raw json.RawMessage) (export.Options, error) {
	in := struct {
		commonOptions
		export.DocumentOptions
	}{
		DocumentOptions: export.DocumentOptions{
			Title:           "Analysis Export",
			IncludeSummary:  true,
			IncludeFindings: true,
		},
	}
	if err := decodeOptions(raw, &in); err != nil {
		return export.Options{}, err
	}

	doc := in.DocumentOptions
	return export.Options{SplitPerRecord: in.SplitPerRecord, Document: &doc}, nil
}

// Export writes the report to w.
func (g *DocumentGenerator) Export(ctx context.Context, records []*export.Record, opts export.Options, w io.Writer) error {
	o := export.DocumentOptions{Title: "Analysis Export", IncludeSummary: true, IncludeFindings: true}
	if opts.Document != nil {
		o = *opts.Document
	}
	if o.Title == "" {
		o.Title = "Analysis Export"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n\n", o.Title)
	fmt.Fprintf(bw, "Generated: %s  \n", g.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "Records: %d\n\n", len(records))

	if o.IncludeSummary {
		writeSummary(bw, records)
	}

	minRank := severityRank[o.MinSeverity]
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return export.NewGenerationError(export.FormatDocument, len(records), err)
		}

		title := record.Title
		if title == "" {
			title = record.ID
		}
		fmt.Fprintf(bw, "## %s\n\n", title)
		fmt.Fprintf(bw, "- ID: `%s`\n", record.ID)
		if record.Source != "" {
			fmt.Fprintf(bw, "- Source: %s\n", record.Source)
		}
		fmt.Fprintf(bw, "- Verdict: %s\n", record.Verdict)
		fmt.Fprintf(bw, "- Score: %.2f\n", record.Score)
		if !record.AnalyzedAt.IsZero() {
			fmt.Fprintf(bw, "- Analyzed: %s\n", record.AnalyzedAt.UTC().Format(time.RFC3339))
		}
		bw.WriteString("\n")

		if !o.IncludeFindings {
			continue
		}
		var shown []export.Finding
		for _, f := range record.Findings {
			if severityRank[strings.ToLower(f.Severity)] >= minRank {
				shown = append(shown, f)
			}
		}
		if len(shown) == 0 {
			bw.WriteString("_No findings._\n\n")
			continue
		}
		bw.WriteString("### Findings\n\n")
		for _, f := range shown {
			fmt.Fprintf(bw, "- **%s** %s: %s (confidence %.0f%%)\n",
				strings.ToUpper(f.Severity), f.Category, f.Description, f.Confidence*100)
		}
		bw.WriteString("\n")
	}

	if err := bw.Flush(); err != nil {
		return export.NewGenerationError(export.FormatDocument, len(records), err)
	}
	return nil
}

func writeSummary(w *bufio.Writer, records []*export.Record) {
	verdicts := make(map[string]int)
	severities := make(map[string]int)
	for _, r := range records {
		verdicts[r.Verdict]++
		for _, f := range r.Findings {
			severities[strings.ToLower(f.Severity)]++
		}
	}

	w.WriteString("## Summary\n\n")
	w.WriteString("| Verdict | Records |\n|---|---|\n")
	keys := make([]string, 0, len(verdicts))
	for k := range verdicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		label := k
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(w, "| %s | %d |\n", label, verdicts[k])
	}
	w.WriteString("\n")

	if len(severities) > 0 {
		w.WriteString("| Severity | Findings |\n|---|---|\n")
		for _, s := range []string{"critical", "high", "medium", "low"} {
			if n := severities[s]; n > 0 {
				fmt.Fprintf(w, "| %s | %d |\n", s, n)
			}
		}
		w.WriteString("\n")
	}
}
