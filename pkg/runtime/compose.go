package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxComposeOutput caps how much CLI output is carried in an error
const maxComposeOutput = 2048

// ComposeConfig configures how compose definitions are applied
type ComposeConfig struct {
	// Command is the compose CLI invocation, e.g. ["docker", "compose"] or ["docker-compose"]
	Command []string

	// TempDir holds transient definition files; empty means os.TempDir()
	TempDir string
}

// commandRunner executes a command and returns its combined output
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ComposeRunner applies compose definitions by writing them to a temporary
// file and running `<command> -f <file> up -d`. The file never outlives Apply.
type ComposeRunner struct {
	command []string
	tempDir string
	run     commandRunner
	logger  *zap.Logger
}

// NewComposeRunner creates a compose runner
func NewComposeRunner(cfg ComposeConfig, logger *zap.Logger) *ComposeRunner {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"docker", "compose"}
	}

	return &ComposeRunner{
		command: cfg.Command,
		tempDir: cfg.TempDir,
		run:     execCommand,
		logger:  logger,
	}
}

// Apply writes definition to a transient file, runs `up -d` against it and
// removes the file on every path. The definition is not validated here;
// malformed input surfaces as a CLI failure.
func (c *ComposeRunner) Apply(ctx context.Context, definition string) error {
	f, err := os.CreateTemp(c.tempDir, "docker-compose-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create compose file: %w", err)
	}
	path := f.Name()
	defer c.remove(path)

	if _, err := f.WriteString(definition); err != nil {
		f.Close()
		return fmt.Errorf("failed to write compose file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write compose file: %w", err)
	}

	logger := c.logger.With(zap.String("file", path))
	if services, err := composeServices(definition); err != nil {
		logger.Debug("Could not parse compose definition for logging", zap.Error(err))
	} else {
		logger = logger.With(zap.Strings("services", services))
	}

	args := append(append([]string{}, c.command[1:]...), "-f", path, "up", "-d")
	logger.Info("Applying compose definition",
		zap.String("command", strings.Join(append([]string{c.command[0]}, args...), " ")),
	)

	out, err := c.run(ctx, c.command[0], args...)
	if err != nil {
		return fmt.Errorf("%s up failed: %w: %s", strings.Join(c.command, " "), err, truncateOutput(out))
	}

	logger.Info("Compose definition applied")
	return nil
}

func (c *ComposeRunner) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("Failed to remove compose file",
			zap.String("file", path),
			zap.Error(err),
		)
	}
}

// composeServices returns the sorted service names declared in a definition
func composeServices(definition string) ([]string, error) {
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(definition), &doc); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func truncateOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxComposeOutput {
		s = s[len(s)-maxComposeOutput:]
	}
	return s
}
