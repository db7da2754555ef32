package correction

import (
	"sort"

	"github.com/Veraticus/cellflow/internal/model"
)

// Partition splits rules into the generic and column-scoped groups, each
// ordered by priority ascending with ID as the tiebreak. Disabled rules,
// rules whose replacement equals their match, and column rules without a
// column are dropped.
func Partition(rules []model.CorrectionRule) (generic, scoped []model.CorrectionRule) {
	for _, r := range rules {
		if !r.Enabled || r.Match == r.Replacement {
			continue
		}
		switch r.Scope {
		case model.ScopeColumn:
			if r.Column == "" {
				continue
			}
			scoped = append(scoped, r)
		default:
			generic = append(generic, r)
		}
	}
	sortRules(generic)
	sortRules(scoped)
	return generic, scoped
}

func sortRules(rules []model.CorrectionRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
