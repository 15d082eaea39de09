package export

import "slices"

// Options is the typed configuration of a job. Exactly one of the per-format
// variants is set, matching the job's format; SplitPerRecord applies to
// batch jobs only.
type Options struct {
	// SplitPerRecord produces one artifact per record instead of one
	// combined artifact.
	SplitPerRecord bool `json:"splitPerRecord,omitempty"`

	Document *DocumentOptions `json:"document,omitempty"`
	Data     *DataOptions     `json:"data,omitempty"`
	Tabular  *TabularOptions  `json:"tabular,omitempty"`
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	c := o
	if o.Document != nil {
		d := *o.Document
		c.Document = &d
	}
	if o.Data != nil {
		d := *o.Data
		c.Data = &d
	}
	if o.Tabular != nil {
		t := *o.Tabular
		t.Columns = slices.Clone(o.Tabular.Columns)
		c.Tabular = &t
	}
	return c
}

// DocumentOptions configures the human-readable report format.
type DocumentOptions struct {
	Title           string `json:"title" validate:"max=200"`
	IncludeSummary  bool   `json:"includeSummary"`
	IncludeFindings bool   `json:"includeFindings"`
	MinSeverity     string `json:"minSeverity" validate:"omitempty,oneof=low medium high critical"`
}

// DataOptions configures the machine-readable format.
type DataOptions struct {
	Pretty          bool `json:"pretty"`
	IncludeMetadata bool `json:"includeMetadata"`
}

// TabularOptions configures the tabular summary format.
type TabularOptions struct {
	Header    bool     `json:"header"`
	Delimiter string   `json:"delimiter"`
	Columns   []string `json:"columns" validate:"omitempty,unique,dive,oneof=id title source verdict score analyzedAt findings maxSeverity"`
}
