// Package segment evaluates typed filter rules against user and account
// records. The same evaluator backs audience segments, flow condition and
// filter nodes, and campaign recipient filtering.
package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// Record is the flattened user(+account) view rules resolve against.
type Record struct {
	User    map[string]any
	Account map[string]any
}

// NewRecord flattens a user and its optional account into an evaluatable record.
func NewRecord(user *models.User, account *models.Account) Record {
	rec := Record{User: flattenUser(user)}
	if account != nil {
		rec.Account = flattenAccount(account)
	}

	return rec
}

// Evaluate applies the rules with the given combinator. An empty rule list
// matches every record.
func Evaluate(rules []models.SegmentRule, logic models.FilterLogic, rec Record) bool {
	if len(rules) == 0 {
		return true
	}

	switch logic.Normalize() {
	case models.FilterLogicOr:
		for _, rule := range rules {
			if evaluateRule(rule, rec) {
				return true
			}
		}

		return false
	default:
		for _, rule := range rules {
			if !evaluateRule(rule, rec) {
				return false
			}
		}

		return true
	}
}

func evaluateRule(rule models.SegmentRule, rec Record) bool {
	value, found := rec.resolve(rule.FieldSource, rule.Field)

	switch rule.Operator {
	case models.OpIsSet:
		return found && value != nil
	case models.OpIsNotSet:
		return !found || value == nil
	}

	if !found {
		return false
	}

	switch rule.Operator {
	case models.OpEquals:
		return looseEqual(value, rule.Value)
	case models.OpNotEquals:
		return !looseEqual(value, rule.Value)
	case models.OpContains:
		return containsValue(value, rule.Value)
	case models.OpNotContains:
		return !containsValue(value, rule.Value)
	case models.OpStartsWith:
		return strings.HasPrefix(asString(value), asString(rule.Value))
	case models.OpEndsWith:
		return strings.HasSuffix(asString(value), asString(rule.Value))
	case models.OpGreaterThan:
		return compareNumeric(value, rule.Value, func(a, b float64) bool { return a > b })
	case models.OpGreaterThanOrEqual:
		return compareNumeric(value, rule.Value, func(a, b float64) bool { return a >= b })
	case models.OpLessThan:
		return compareNumeric(value, rule.Value, func(a, b float64) bool { return a < b })
	case models.OpLessThanOrEqual:
		return compareNumeric(value, rule.Value, func(a, b float64) bool { return a <= b })
	case models.OpInList:
		return inList(value, rule.Values)
	case models.OpNotInList:
		return !inList(value, rule.Values)
	case models.OpBetween:
		if len(rule.Values) != 2 {
			return false
		}

		return compareNumeric(value, rule.Values[0], func(a, b float64) bool { return a >= b }) &&
			compareNumeric(value, rule.Values[1], func(a, b float64) bool { return a <= b })
	default:
		return false
	}
}

// resolve looks up a field, following dot-paths into nested map containers
// such as "custom_properties.industry".
func (r Record) resolve(source models.FieldSource, field string) (any, bool) {
	root := r.User
	if source == models.FieldSourceAccount {
		root = r.Account
	}

	if root == nil {
		return nil, false
	}

	parts := strings.Split(field, ".")
	var current any = root

	for _, part := range parts {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = container[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}

	return asString(a) == asString(b)
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []string:
		for _, item := range h {
			if item == asString(needle) {
				return true
			}
		}

		return false
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	default:
		return strings.Contains(asString(haystack), asString(needle))
	}
}

func inList(value any, list []any) bool {
	for _, item := range list {
		if looseEqual(value, item) {
			return true
		}
	}

	return false
}

func compareNumeric(a, b any, cmp func(a, b float64) bool) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	if !aok || !bok {
		return false
	}

	return cmp(af, bf)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func flattenUser(u *models.User) map[string]any {
	if u == nil {
		return nil
	}

	flat := map[string]any{
		"id":                  u.ID,
		"external_id":         u.ExternalID,
		"email":               u.Email,
		"name":                u.Name,
		"lifecycle_state":     string(u.LifecycleState),
		"previous_state":      string(u.PreviousState),
		"logins_last_7_days":  u.LoginsLast7Days,
		"logins_last_30_days": u.LoginsLast30Days,
		"avg_session_minutes": u.AvgSessionMinutes,
		"features_used":       u.FeaturesUsedLast30Days,
		"feature_count":       len(u.FeaturesUsedLast30Days),
		"seat_count":          u.SeatCount,
		"seat_limit":          u.SeatLimit,
		"churn_score":         u.ChurnScore,
		"expansion_score":     u.ExpansionScore,
		"plan_tier":           string(u.PlanTier),
		"tags":                u.Tags,
	}

	if u.NPSScore != nil {
		flat["nps_score"] = *u.NPSScore
	}

	if u.CustomProperties != nil {
		flat["custom_properties"] = u.CustomProperties
	}

	return flat
}

func flattenAccount(a *models.Account) map[string]any {
	flat := map[string]any{
		"id":              a.ID,
		"external_id":     a.ExternalID,
		"name":            a.Name,
		"plan_tier":       string(a.PlanTier),
		"mrr_cents":       a.MRRCents,
		"arr_cents":       a.ARRCents,
		"seat_limit":      a.SeatLimit,
		"user_count":      a.UserCount,
		"health":          string(a.Health),
		"churn_score":     a.ChurnScore,
		"expansion_score": a.ExpansionScore,
	}

	if a.CustomProperties != nil {
		flat["custom_properties"] = a.CustomProperties
	}

	return flat
}
