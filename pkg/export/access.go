package export

import "slices"

// Role distinguishes regular users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Tier is the caller's access tier. Tiers are ordered; batch work requires
// a tier above TierBasic.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierBasic:      0,
	TierStandard:   1,
	TierPremium:    2,
	TierEnterprise: 3,
}

// Rank orders tiers; unknown tiers rank below basic.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Principal identifies the caller of an operation.
type Principal struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Tier   Tier   `json:"tier"`
}

// IsAdmin reports whether the principal is an administrator.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess reports whether the principal may read or modify resources
// owned by ownerID.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == ownerID)
}

// Permissions are the permission facts of a principal, supplied by a
// caller-side policy.
type Permissions struct {
	Tier             Tier
	AllowedFormats   []Format
	MaxRecords       int // single job record cap
	MaxBatchRecords  int // batch job record cap; 0 disables batch
	MaxActiveJobs    int // 0 means unlimited
	CreatesPerMinute int // 0 means unlimited
}

// AllowsFormat reports whether format is in the allowed set.
func (p Permissions) AllowsFormat(format Format) bool {
	return slices.Contains(p.AllowedFormats, format)
}

// AllowsBatch reports whether batch jobs may be submitted at all.
func (p Permissions) AllowsBatch() bool {
	return p.Tier.Rank() > TierBasic.Rank() && p.MaxBatchRecords > 0
}

// RecordLimit returns the record cap for kind.
func (p Permissions) RecordLimit(kind Kind) int {
	if kind == KindBatch {
		return p.MaxBatchRecords
	}
	return p.MaxRecords
}
