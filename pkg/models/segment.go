package models

import (
	"strings"
	"time"
)

// FilterLogic combines segment rules. Stored casing is inconsistent across
// older definitions ("and"/"or"), so Normalize is applied at every boundary.
type FilterLogic string

const (
	FilterLogicAnd FilterLogic = "AND"
	FilterLogicOr  FilterLogic = "OR"
)

// Normalize maps any stored casing onto the canonical upper-case form.
// Unknown values fall back to AND, the stricter combinator.
func (l FilterLogic) Normalize() FilterLogic {
	switch strings.ToUpper(strings.TrimSpace(string(l))) {
	case "OR":
		return FilterLogicOr
	default:
		return FilterLogicAnd
	}
}

// RuleOperator is the comparison a segment rule applies.
type RuleOperator string

const (
	OpEquals             RuleOperator = "equals"
	OpNotEquals          RuleOperator = "not_equals"
	OpContains           RuleOperator = "contains"
	OpNotContains        RuleOperator = "not_contains"
	OpStartsWith         RuleOperator = "starts_with"
	OpEndsWith           RuleOperator = "ends_with"
	OpGreaterThan        RuleOperator = "greater_than"
	OpGreaterThanOrEqual RuleOperator = "greater_than_or_equal"
	OpLessThan           RuleOperator = "less_than"
	OpLessThanOrEqual    RuleOperator = "less_than_or_equal"
	OpIsSet              RuleOperator = "is_set"
	OpIsNotSet           RuleOperator = "is_not_set"
	OpInList             RuleOperator = "in_list"
	OpNotInList          RuleOperator = "not_in_list"
	OpBetween            RuleOperator = "between"
)

// FieldSource names which record a rule's field resolves against.
type FieldSource string

const (
	FieldSourceUser    FieldSource = "user"
	FieldSourceAccount FieldSource = "account"
)

// SegmentRule is one typed predicate in a segment's filter tree.
// Field supports dot-paths into the custom-properties container,
// e.g. "custom_properties.industry".
type SegmentRule struct {
	Field       string       `json:"field"        validate:"required"`
	FieldSource FieldSource  `json:"field_source"`
	Operator    RuleOperator `json:"operator"     validate:"required"`
	Value       any          `json:"value,omitempty"`
	Values      []any        `json:"values,omitempty"`
}

// Segment is a named, rule-defined audience.
type Segment struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"         validate:"required,min=1"`
	Description    string        `json:"description,omitempty"`
	Rules          []SegmentRule `json:"rules"`
	FilterLogic    FilterLogic   `json:"filter_logic"`
	Active         bool          `json:"active"`
	MemberCount    int           `json:"member_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SegmentMembership records one user's membership in one segment.
type SegmentMembership struct {
	SegmentID string    `json:"segment_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}
