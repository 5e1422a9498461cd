package engine

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

// genericRoleNames maps each aggregation role to the generic names the
// external mapper uses for it in columns_remapped entries.
var genericRoleNames = map[dataset.ColumnRole][]string{
	dataset.RoleAmount:  {"amount", "trans_amt", "value"},
	dataset.RoleDate:    {"timestamp", "date", "time"},
	dataset.RoleAccount: {"sender_account", "account", "from_acct"},
}

// Resolve returns the column name to aggregate for a role: the rule's own
// mapping first, then the dataset-wide role map. Different rules in the same
// dataset may legitimately point at different columns (receiver vs sender
// accounts), which is why a single global mapping is insufficient. Returns
// "" when neither tier resolves the role.
func Resolve(role dataset.ColumnRole, rule *domain.Rule, roleMap dataset.RoleMap) string {
	names := genericRoleNames[role]
	for _, m := range rule.ColumnsRemapped {
		generic := strings.ToLower(strings.TrimSpace(m.Generic))
		for _, name := range names {
			if generic == name {
				return strings.TrimSpace(m.Actual)
			}
		}
	}
	return roleMap.Column(role)
}
