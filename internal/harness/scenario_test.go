package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "test.yaml", `
name: test_scenario
description: "Test scenario for validation"
offers:
  - id: T-1
    base_payout: 1000
    bonus: 250
    expires_in: 45s
conflicts: [T-1]
steps:
  - do: go_online
  - do: accept
    task: T-1
    expect: conflict
  - do: advance_clock
    by: 1m
expect:
  active: ""
  feed: []
  pending: 0
  events: [offer_conflict T-1]
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Offers, 1)
	assert.Equal(t, int64(1000), scenario.Offers[0].BasePayout)
	assert.Equal(t, int64(250), scenario.Offers[0].Bonus)
	assert.Equal(t, 45*time.Second, scenario.Offers[0].ExpiresIn)
	assert.Equal(t, []string{"T-1"}, scenario.Conflicts)

	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, StepAccept, scenario.Steps[1].Do)
	assert.Equal(t, "conflict", scenario.Steps[1].Expect)
	assert.Equal(t, time.Minute, scenario.Steps[2].By)

	require.NotNil(t, scenario.Expect.Active)
	assert.Empty(t, *scenario.Expect.Active)
	assert.NotNil(t, scenario.Expect.Feed, "an explicit empty feed is checked")
	assert.Empty(t, scenario.Expect.Feed)
	require.NotNil(t, scenario.Expect.Pending)
	assert.Zero(t, *scenario.Expect.Pending)
	assert.Nil(t, scenario.Expect.Balance)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{do: go_online}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{do: go_online}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nstep: [{do: go_online}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown step",
			yaml:    "name: n\ndescription: d\nsteps: [{do: teleport}]\n",
			wantErr: `unknown step "teleport"`,
		},
		{
			name:    "accept without task",
			yaml:    "name: n\ndescription: d\nsteps: [{do: accept}]\n",
			wantErr: "task is required for accept",
		},
		{
			name:    "withdraw without amount",
			yaml:    "name: n\ndescription: d\nsteps: [{do: withdraw}]\n",
			wantErr: "amount is required",
		},
		{
			name:    "clock without duration",
			yaml:    "name: n\ndescription: d\nsteps: [{do: advance_clock}]\n",
			wantErr: "by must be positive",
		},
		{
			name:    "unknown outcome",
			yaml:    "name: n\ndescription: d\nsteps: [{do: go_online, expect: maybe}]\n",
			wantErr: `unknown expected outcome "maybe"`,
		},
		{
			name:    "duplicate offer",
			yaml:    "name: n\ndescription: d\noffers: [{id: T-1}, {id: T-1}]\nsteps: [{do: go_online}]\n",
			wantErr: `duplicate id "T-1"`,
		},
		{
			name:    "offer without id",
			yaml:    "name: n\ndescription: d\noffers: [{base_payout: 10}]\nsteps: [{do: go_online}]\n",
			wantErr: "offers[0]: id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarios_Fixtures(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"delivery_payout", "offline_accept_confirmed", "race_conflict"}, names)
}

func TestLoadScenarios_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	body := "name: same\ndescription: d\nsteps: [{do: go_online}]\n"
	writeScenario(t, dir, "a.yaml", body)
	writeScenario(t, dir, "b.yaml", body)

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "same" defined in both a.yaml and b.yaml`)
}

func TestLoadScenarios_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: n\n")

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
