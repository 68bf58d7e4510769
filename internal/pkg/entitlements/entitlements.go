package entitlements

import (
	"encoding/json"

	"github.com/ekklesiahq/ekklesia/app/models"
)

// Limits is the effective resource allowance a plan grants a tenant.
// A nil limit means unlimited.
type Limits struct {
	MaxBranches *int     `json:"max_branches,omitempty"`
	MaxMembers  *int     `json:"max_members,omitempty"`
	Features    []string `json:"features"`
}

// ForPlan computes the allowance granted by a plan. Features is the plan's
// feature list decoded from its JSON column; a broken column yields an empty
// list, never an error.
func ForPlan(plan *models.Plan) Limits {
	limits := Limits{
		MaxBranches: plan.MaxBranches,
		MaxMembers:  plan.MaxMembers,
		Features:    []string{},
	}
	if len(plan.Features) > 0 {
		var features []string
		if err := json.Unmarshal(plan.Features, &features); err == nil {
			limits.Features = features
		}
	}
	return limits
}

// HasFeature reports whether the plan's feature list names the feature.
func (l Limits) HasFeature(name string) bool {
	for _, f := range l.Features {
		if f == name {
			return true
		}
	}
	return false
}

// AllowsBranches reports whether the plan permits count branches.
func (l Limits) AllowsBranches(count int) bool {
	return l.MaxBranches == nil || count <= *l.MaxBranches
}

// AllowsMembers reports whether the plan permits count members.
func (l Limits) AllowsMembers(count int) bool {
	return l.MaxMembers == nil || count <= *l.MaxMembers
}
