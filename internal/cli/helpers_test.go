package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/starcore/internal/testutil"
)

// eventsFile is the shared patient fixture, referenced by a relative path so
// it appears verbatim in golden output.
var eventsFile = filepath.Join("..", "patient", "testdata", "events.yaml")

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "starcore.db")
}

// ingestFixture applies the events fixture to db with one worker and a
// stepping clock, so stored times are predictable: the first write is
// stamped 2024-02-11T16:00:01Z and each later write one second on.
func ingestFixture(t *testing.T, db string) {
	t.Helper()

	opts := &IngestOptions{
		RootOptions: &RootOptions{Format: "text"},
		storeFlags:  storeFlags{DSN: db},
		Workers:     1,
		Clock:       testutil.NewDeterministicClock(),
	}

	// runIngest reads overrides only from flags the user set.
	cmd := NewIngestCommand(opts.RootOptions)
	require.NoError(t, cmd.Flags().Set("workers", "1"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runIngest(opts, eventsFile, cmd))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
