package config

import (
	"context"
	"fmt"
	"sync/atomic"

	"mercator-hq/exporter/pkg/export"
)

// TierResolver maps a principal's tier to its configured permission facts.
// The table can be swapped at runtime by Update.
type TierResolver struct {
	tiers atomic.Pointer[map[export.Tier]export.Permissions]
}

// NewTierResolver creates a resolver over the given tier table.
func NewTierResolver(tiers map[string]TierConfig) *TierResolver {
	r := &TierResolver{}
	r.Update(tiers)
	return r
}

// Update replaces the tier table.
func (r *TierResolver) Update(tiers map[string]TierConfig) {
	table := make(map[export.Tier]export.Permissions, len(tiers))
	for name, tc := range tiers {
		formats := make([]export.Format, 0, len(tc.AllowedFormats))
		for _, f := range tc.AllowedFormats {
			formats = append(formats, export.Format(f))
		}
		table[export.Tier(name)] = export.Permissions{
			Tier:             export.Tier(name),
			AllowedFormats:   formats,
			MaxRecords:       tc.MaxRecords,
			MaxBatchRecords:  tc.MaxBatchRecords,
			MaxActiveJobs:    tc.MaxActiveJobs,
			CreatesPerMinute: tc.CreatesPerMinute,
		}
	}
	r.tiers.Store(&table)
}

// Permissions returns the facts of the principal's tier. Principals with an
// unconfigured tier are denied with export.ErrForbidden.
func (r *TierResolver) Permissions(_ context.Context, principal export.Principal) (export.Permissions, error) {
	table := *r.tiers.Load()
	perms, ok := table[principal.Tier]
	if !ok {
		return export.Permissions{}, fmt.Errorf("%w: tier %q is not configured", export.ErrForbidden, principal.Tier)
	}
	return perms, nil
}
