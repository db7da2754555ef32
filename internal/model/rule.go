package model

import "time"

// RuleScope determines which columns a correction rule applies to.
type RuleScope string

// Rule scopes.
const (
	// ScopeGeneric rules apply to every correctable column.
	ScopeGeneric RuleScope = "generic"
	// ScopeColumn rules apply to a single named column.
	ScopeColumn RuleScope = "column"
)

// CorrectionRule rewrites cells whose value equals Match into Replacement.
type CorrectionRule struct {
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	Name        string    `json:"name" yaml:"name"`
	Match       string    `json:"match" yaml:"match"`
	Replacement string    `json:"replacement" yaml:"replacement"`
	Scope       RuleScope `json:"scope" yaml:"scope"`
	Column      string    `json:"column,omitempty" yaml:"column,omitempty"`
	Priority    int       `json:"priority" yaml:"priority"`
	ID          int       `json:"id" yaml:"id"`
	UseCount    int       `json:"use_count" yaml:"use_count"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
}
