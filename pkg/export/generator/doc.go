// Package generator provides the per-format artifact generators and the
// registry the orchestrator dispatches through.
//
// # Supported Formats
//
//   - document: Markdown report with a verdict/severity summary
//   - data: JSON, optionally wrapped in an envelope with export metadata
//   - tabular: CSV summary, one row per record
//
// Each generator owns a typed options struct. ParseOptions decodes the raw
// request options strictly (unknown fields are errors), applies defaults and
// validates them with struct tags, so invalid options are rejected before a
// job is created.
//
// # Usage
//
//	registry := generator.NewDefaultRegistry()
//	opts, err := registry.ParseOptions(export.FormatData, raw)
//	if err != nil {
//	    return err // *export.ValidationError
//	}
//	g, _ := registry.Get(export.FormatData)
//	out, err := generator.Generate(ctx, g, records, opts)
package generator
