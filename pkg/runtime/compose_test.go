package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCompose = `services:
  web:
    image: nginx:alpine
    ports:
      - "8080:80"
  cache:
    image: redis:7
`

// recordingRunner captures the definition file passed to the compose CLI
type recordingRunner struct {
	name    string
	args    []string
	path    string
	content string
	existed bool
	out     []byte
	err     error
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	for i, arg := range args {
		if arg == "-f" && i+1 < len(args) {
			r.path = args[i+1]
		}
	}
	if data, err := os.ReadFile(r.path); err == nil {
		r.existed = true
		r.content = string(data)
	}
	return r.out, r.err
}

func newTestComposeRunner(t *testing.T, command []string, rec *recordingRunner) (*ComposeRunner, string) {
	dir := t.TempDir()
	c := NewComposeRunner(ComposeConfig{Command: command, TempDir: dir}, zap.NewNop())
	c.run = rec.run
	return c, dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "transient compose files must be removed")
}

func TestComposeRunner_Apply_Success(t *testing.T) {
	rec := &recordingRunner{out: []byte("Container web  Started\n")}
	c, dir := newTestComposeRunner(t, []string{"docker", "compose"}, rec)

	err := c.Apply(context.Background(), testCompose)
	require.NoError(t, err)

	assert.Equal(t, "docker", rec.name)
	assert.Equal(t, []string{"compose", "-f", rec.path, "up", "-d"}, rec.args)
	assert.True(t, rec.existed, "definition file should exist while the CLI runs")
	assert.Equal(t, testCompose, rec.content)
	assert.Equal(t, dir, filepath.Dir(rec.path))

	_, statErr := os.Stat(rec.path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "definition file should be removed after success")
	assertDirEmpty(t, dir)
}

func TestComposeRunner_Apply_Failure(t *testing.T) {
	rec := &recordingRunner{
		out: []byte("services.web Additional property imagee is not allowed\n"),
		err: errors.New("exit status 15"),
	}
	c, dir := newTestComposeRunner(t, []string{"docker-compose"}, rec)

	err := c.Apply(context.Background(), "services:\n  web:\n    imagee: nginx\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker-compose up failed")
	assert.Contains(t, err.Error(), "exit status 15")
	assert.Contains(t, err.Error(), "Additional property imagee")

	assert.Equal(t, "docker-compose", rec.name)
	assert.Equal(t, []string{"-f", rec.path, "up", "-d"}, rec.args)
	assert.True(t, rec.existed)

	_, statErr := os.Stat(rec.path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "definition file should be removed after failure")
	assertDirEmpty(t, dir)
}

func TestComposeRunner_Apply_MalformedYAMLStillReachesCLI(t *testing.T) {
	rec := &recordingRunner{err: errors.New("exit status 1")}
	c, dir := newTestComposeRunner(t, nil, rec)

	err := c.Apply(context.Background(), "services: [unterminated")
	require.Error(t, err)
	assert.True(t, rec.existed, "malformed definitions are handed to the CLI, not pre-validated")
	assertDirEmpty(t, dir)
}

func TestComposeRunner_Apply_UnwritableTempDir(t *testing.T) {
	rec := &recordingRunner{}
	c := NewComposeRunner(ComposeConfig{TempDir: filepath.Join(t.TempDir(), "missing")}, zap.NewNop())
	c.run = rec.run

	err := c.Apply(context.Background(), testCompose)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create compose file")
	assert.Empty(t, rec.name, "CLI must not run without a definition file")
}

func TestComposeServices(t *testing.T) {
	services, err := composeServices(testCompose)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "web"}, services)

	_, err = composeServices("services: [unterminated")
	assert.Error(t, err)
}

func TestTruncateOutput(t *testing.T) {
	long := make([]byte, maxComposeOutput+100)
	for i := range long {
		long[i] = 'x'
	}
	long[len(long)-1] = 'E'

	got := truncateOutput(long)
	assert.Len(t, got, maxComposeOutput)
	assert.Equal(t, byte('E'), got[len(got)-1], "the tail of the output is kept")
	assert.Equal(t, "ok", truncateOutput([]byte("  ok\n")))
}
