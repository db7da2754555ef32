// Package validation decides whether cell values are acceptable.
package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Veraticus/cellflow/internal/common"
)

// Validator judges one cell value.
type Validator interface {
	Validate(column, value string) bool
}

// Func adapts a function to the Validator interface.
type Func func(column, value string) bool

// Validate calls f(column, value).
func (f Func) Validate(column, value string) bool { return f(column, value) }

// ColumnRule describes what a column accepts. A rule with no constraints
// accepts everything.
type ColumnRule struct {
	Column   string   `mapstructure:"column" yaml:"column"`
	Pattern  string   `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Allowed  []string `mapstructure:"allowed" yaml:"allowed,omitempty"`
	Required bool     `mapstructure:"required" yaml:"required,omitempty"`
	// IgnoreCase applies to Allowed only.
	IgnoreCase bool `mapstructure:"ignore_case" yaml:"ignore_case,omitempty"`
}

type compiledRule struct {
	pattern    *regexp.Regexp
	allowed    map[string]struct{}
	required   bool
	ignoreCase bool
}

// RuleSet validates columns against per-column rules. Columns without a
// rule are always valid.
type RuleSet struct {
	columns map[string]compiledRule
}

// NewRuleSet compiles rules. A later rule for the same column replaces an
// earlier one. A bad pattern is a configuration error.
func NewRuleSet(rules ...ColumnRule) (*RuleSet, error) {
	rs := &RuleSet{columns: make(map[string]compiledRule, len(rules))}
	for _, rule := range rules {
		column := rule.Column
		if column == "" {
			return nil, common.NewConfigurationError("validation.NewRuleSet",
				fmt.Errorf("%w: rule without column", common.ErrInvalidConfig))
		}
		c := compiledRule{required: rule.Required, ignoreCase: rule.IgnoreCase}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, common.NewConfigurationError("validation.NewRuleSet",
					fmt.Errorf("%w: column %q pattern: %w", common.ErrInvalidConfig, column, err))
			}
			c.pattern = re
		}
		if len(rule.Allowed) > 0 {
			c.allowed = make(map[string]struct{}, len(rule.Allowed))
			for _, v := range rule.Allowed {
				c.allowed[c.fold(v)] = struct{}{}
			}
		}
		rs.columns[column] = c
	}
	return rs, nil
}

// Columns lists the columns that carry a rule, sorted.
func (rs *RuleSet) Columns() []string {
	out := make([]string, 0, len(rs.columns))
	for c := range rs.columns {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Validate implements Validator.
func (rs *RuleSet) Validate(column, value string) bool {
	rule, ok := rs.columns[column]
	if !ok {
		return true
	}
	if value == "" {
		return !rule.required
	}
	if rule.allowed != nil {
		if _, ok := rule.allowed[rule.fold(value)]; !ok {
			return false
		}
	}
	if rule.pattern != nil && !rule.pattern.MatchString(value) {
		return false
	}
	return true
}

func (c compiledRule) fold(v string) string {
	if c.ignoreCase {
		return strings.ToLower(v)
	}
	return v
}
