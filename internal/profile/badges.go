package profile

import (
	"sort"

	"civicflow/internal/domain"
)

type metric string

const (
	metricSolved metric = "solved"
	metricPoints metric = "points"
)

// BadgeRule is a badge and the threshold that earns it.
type BadgeRule struct {
	ID          string
	Name        string
	Tier        string
	Description string
	Metric      metric
	Requirement int
}

var Catalog = map[string]BadgeRule{
	"first_fix": {
		ID:          "first_fix",
		Name:        "First Responder",
		Tier:        "Bronze",
		Description: "Solved a first issue",
		Metric:      metricSolved,
		Requirement: 1,
	},
	"fixer": {
		ID:          "fixer",
		Name:        "Neighbourhood Fixer",
		Tier:        "Silver",
		Description: "Solved 5 issues",
		Metric:      metricSolved,
		Requirement: 5,
	},
	"civic_hero": {
		ID:          "civic_hero",
		Name:        "Civic Hero",
		Tier:        "Gold",
		Description: "Solved 10 issues",
		Metric:      metricSolved,
		Requirement: 10,
	},
	"points_500": {
		ID:          "points_500",
		Name:        "Rising Star",
		Tier:        "Silver",
		Description: "Earned 500 points",
		Metric:      metricPoints,
		Requirement: 500,
	},
	"points_2000": {
		ID:          "points_2000",
		Name:        "City Champion",
		Tier:        "Platinum",
		Description: "Earned 2000 points",
		Metric:      metricPoints,
		Requirement: 2000,
	},
}

func GetBadgeRule(id string) (BadgeRule, bool) {
	rule, ok := Catalog[id]
	return rule, ok
}

// Rules returns the catalog ordered by id.
func Rules() []BadgeRule {
	out := make([]BadgeRule, 0, len(Catalog))
	for _, rule := range Catalog {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r BadgeRule) earned(p domain.UserProfile) bool {
	switch r.Metric {
	case metricSolved:
		return p.SolvedCount >= r.Requirement
	case metricPoints:
		return p.Points >= r.Requirement
	}
	return false
}
