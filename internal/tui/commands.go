package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	errNoValidator = errors.New("no validation rules configured")
	errNoRules     = errors.New("no rule source configured")
)

// validateCmd starts a validation run and reports it as started.
func (m Model) validateCmd() tea.Cmd {
	ctx, cfg := m.ctx, m.config
	return func() tea.Msg {
		if cfg.Validator == nil {
			return validationDoneMsg{err: errNoValidator}
		}
		run := cfg.Hub.StartValidation(ctx, cfg.Validator)
		return runStartedMsg{
			kind: "validation",
			run:  run,
			wait: func() tea.Msg {
				err := run.Wait()
				report := run.Report()
				if err == nil && cfg.OnValidated != nil {
					err = cfg.OnValidated(ctx, report)
				}
				return validationDoneMsg{report: report, err: err}
			},
		}
	}
}

// correctCmd loads the enabled rules and starts a correction run.
func (m Model) correctCmd() tea.Cmd {
	ctx, cfg := m.ctx, m.config
	return func() tea.Msg {
		if cfg.Rules == nil {
			return correctionDoneMsg{err: errNoRules}
		}
		run, err := cfg.Hub.StartCorrectionFrom(ctx, cfg.Rules, cfg.Hub.CorrectionOptions())
		if err != nil {
			return correctionDoneMsg{err: err}
		}
		return runStartedMsg{
			kind: "correction",
			run:  run,
			wait: func() tea.Msg {
				err := run.Wait()
				report := run.Report()
				if report != nil && cfg.OnCorrected != nil {
					if hookErr := cfg.OnCorrected(ctx, report); err == nil {
						err = hookErr
					}
				}
				return correctionDoneMsg{report: report, err: err}
			},
		}
	}
}

// previewCmd plans a correction run without writing anything.
func (m Model) previewCmd() tea.Cmd {
	ctx, cfg := m.ctx, m.config
	return func() tea.Msg {
		if cfg.Rules == nil {
			return correctionDoneMsg{err: errNoRules, preview: true}
		}
		rules, err := cfg.Rules.EnabledRules(ctx, nil)
		if err != nil {
			return correctionDoneMsg{err: err, preview: true}
		}
		report, err := cfg.Hub.Preview(ctx, rules, cfg.Hub.CorrectionOptions())
		return correctionDoneMsg{report: report, err: err, preview: true}
	}
}

// Reloaded returns the message a caller sends after replacing the dataset
// from disk.
func Reloaded(err error) tea.Msg {
	return reloadedMsg{err: err}
}
