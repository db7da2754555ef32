package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/cellflow/internal/common"
)

func TestRuleSet_Validate(t *testing.T) {
	rs, err := NewRuleSet(
		ColumnRule{Column: "Player", Allowed: []string{"John Smith", "Ann Lee"}, Required: true},
		ColumnRule{Column: "Source", Allowed: []string{"stream", "radio"}, IgnoreCase: true},
		ColumnRule{Column: "Score", Pattern: `^[0-9]+$`},
	)
	require.NoError(t, err)

	tests := []struct {
		name   string
		column string
		value  string
		want   bool
	}{
		{name: "allowed value", column: "Player", value: "John Smith", want: true},
		{name: "misspelled value", column: "Player", value: "JohnSmiht", want: false},
		{name: "required but empty", column: "Player", value: "", want: false},
		{name: "case folded", column: "Source", value: "STREAM", want: true},
		{name: "optional empty", column: "Source", value: "", want: true},
		{name: "pattern match", column: "Score", value: "42", want: true},
		{name: "pattern mismatch", column: "Score", value: "forty", want: false},
		{name: "unruled column", column: "Notes", value: "anything", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rs.Validate(tt.column, tt.value))
		})
	}

	assert.Equal(t, []string{"Player", "Score", "Source"}, rs.Columns())
}

func TestNewRuleSet_BadPattern(t *testing.T) {
	_, err := NewRuleSet(ColumnRule{Column: "Score", Pattern: "("})
	require.Error(t, err)
	assert.True(t, common.IsConfigurationError(err))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = NewRuleSet(ColumnRule{Pattern: "x"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestFunc(t *testing.T) {
	v := Func(func(column, value string) bool { return column == "A" && value != "" })
	assert.True(t, v.Validate("A", "x"))
	assert.False(t, v.Validate("B", "x"))
}
