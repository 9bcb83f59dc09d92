package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Flags(t *testing.T) {
	flags := NewRootCommand().PersistentFlags()

	tests := []struct {
		name, shorthand, def string
	}{
		{"verbose", "v", "false"},
		{"format", "", "text"},
		{"config", "c", ""},
	}
	for _, tt := range tests {
		f := flags.Lookup(tt.name)
		require.NotNil(t, f, tt.name)
		assert.Equal(t, tt.shorthand, f.Shorthand, tt.name)
		assert.Equal(t, tt.def, f.DefValue, tt.name)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	tests := []struct {
		name  string
		flags []string
	}{
		{"ingest", []string{"db", "driver", "workers", "rate", "stale-policy", "cursor", "metrics-listen"}},
		{"validate", nil},
		{"history", []string{"db", "driver", "kind"}},
		{"asof", []string{"db", "driver", "valid-at", "stored-at"}},
		{"progress", []string{"db", "driver", "cursor"}},
		{"test", []string{"filter"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.name})
			require.NoError(t, err)
			assert.Equal(t, tt.name, sub.Name())
			for _, flag := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(flag), flag)
			}
		})
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, _, err := execute(NewRootCommand(), "--format", "xml", "progress")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
