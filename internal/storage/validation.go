package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/cellflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidRule  = errors.New("invalid correction rule")
	ErrInvalidScope = errors.New("invalid rule scope")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateScope(scope model.RuleScope) error {
	switch scope {
	case model.ScopeGeneric, model.ScopeColumn:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

// validateRule checks a rule before it is written. A rule whose match
// equals its replacement is rejected here because it can never change a
// cell.
func validateRule(rule *model.CorrectionRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	}
	if err := validateScope(rule.Scope); err != nil {
		return err
	}
	if rule.Match == rule.Replacement {
		return fmt.Errorf("%w: match and replacement are identical", ErrInvalidRule)
	}
	switch {
	case rule.Scope == model.ScopeColumn && strings.TrimSpace(rule.Column) == "":
		return fmt.Errorf("%w: column rule without a column", ErrInvalidRule)
	case rule.Scope == model.ScopeGeneric && rule.Column != "":
		return fmt.Errorf("%w: generic rule names column %q", ErrInvalidRule, rule.Column)
	}
	return nil
}
