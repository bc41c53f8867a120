package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "fieldsync", cmd.Use)
	assert.Contains(t, cmd.Long, "durable queue")

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"run", "queue", "drain", "settings"}, names)
}

func TestSubcommandsAcceptDatabaseOverride(t *testing.T) {
	for _, name := range []string{"run", "queue", "drain", "settings"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{name})
			require.NoError(t, err)
			require.NotNil(t, sub.Flags().Lookup("db"), "%s should accept --db", name)
		})
	}
}

func TestPersistentFlags(t *testing.T) {
	flags := NewRootCommand().PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
		def       string
	}{
		{"verbose", "v", "false"},
		{"format", "", "text"},
		{"config", "c", ""},
	}
	for _, tt := range tests {
		f := flags.Lookup(tt.name)
		require.NotNil(t, f, "flag --%s", tt.name)
		assert.Equal(t, tt.shorthand, f.Shorthand, "flag --%s", tt.name)
		assert.Equal(t, tt.def, f.DefValue, "flag --%s", tt.name)
	}
}

func TestRunOnlineFlagDefaultsOff(t *testing.T) {
	run, _, err := NewRootCommand().Find([]string{"run"})
	require.NoError(t, err)

	online := run.Flags().Lookup("online")
	require.NotNil(t, online)
	assert.Equal(t, "false", online.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"queue", "--format", "xml", "--db", t.TempDir() + "/q.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
