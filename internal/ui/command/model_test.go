package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		want    CommandMsg
		wantErr bool
	}{
		{line: "approve", want: CommandMsg{Name: Approve, Args: []string{}}},
		{line: "  Resolve bob ", want: CommandMsg{Name: Resolve, Args: []string{"bob"}}},
		{line: "edit job_name Spring Promo", want: CommandMsg{Name: Edit, Args: []string{"job_name", "Spring", "Promo"}}},
		{line: "edit job_name", wantErr: true},
		{line: "resolve", wantErr: true},
		{line: "frobnicate", wantErr: true},
		{line: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRest(t *testing.T) {
	c := CommandMsg{Name: Edit, Args: []string{"message", "call", "me"}}
	assert.Equal(t, "call me", c.Rest(1))
	assert.Empty(t, c.Rest(5))
}

func TestEnterEmitsCommandOrError(t *testing.T) {
	m := New(80, 10)
	m.input.SetValue("reopen wrong job")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, CommandMsg{Name: Reopen, Args: []string{"wrong", "job"}}, cmd())
	assert.Empty(t, m.input.Value())

	m.input.SetValue("nope")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, ErrorMsg{}, cmd())
}
