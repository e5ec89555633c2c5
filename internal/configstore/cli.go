package configstore

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// InvocationTimeout bounds every subprocess invocation of a CLI-tool
// backed store (spec §4.3: "300 s timeout per invocation").
const InvocationTimeout = 300 * time.Second

// CLIStore is the cli-local transport mode: every Store operation shells
// out to an external tool binary rather than talking to a database
// in-process. Grounded on the teacher's subprocess-invocation style in
// internal/infrastructure/migrations/cli.go (cobra-wrapped external
// command execution), generalized from a migration runner to the
// configuration-store contract.
type CLIStore struct {
	toolPath string
	logger   *slog.Logger
	run      func(ctx context.Context, args []string) (stdout, stderr string, err error)
}

// NewCLIStore builds a cli-local Store that invokes toolPath directly on
// this host.
func NewCLIStore(toolPath string, logger *slog.Logger) *CLIStore {
	s := &CLIStore{toolPath: toolPath, logger: logger}
	s.run = s.runLocal
	return s
}

func (s *CLIStore) runLocal(ctx context.Context, args []string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, InvocationTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.toolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// MaxConcurrency is unbounded: each invocation is an independent
// subprocess, not a shared in-process connection (spec §9 clamp applies
// only to the in-process driver).
func (s *CLIStore) MaxConcurrency() int { return 0 }

func (s *CLIStore) invoke(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := s.run(ctx, args)
	if err != nil {
		return "", errs.Wrap(errs.KindConfigurationStore, "cli invocation failed", err).
			WithField("args", strings.Join(args, " ")).
			WithField("stderr", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (s *CLIStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	out, err := s.invoke(ctx, "list-runs")
	if err != nil {
		return nil, err
	}
	runs := make(map[int]struct{})
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, convErr := strconv.Atoi(line)
		if convErr != nil {
			continue
		}
		runs[n] = struct{}{}
	}
	return runs, nil
}

func (s *CLIStore) ResolveConfigName(ctx context.Context, run int) (string, error) {
	out, err := s.invoke(ctx, "resolve-config-name", "--run", strconv.Itoa(run))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", errs.New(errs.KindConfigurationStore, "not-found").WithRun(run)
	}
	return name, nil
}

func (s *CLIStore) Insert(ctx context.Context, run int, configName, dir string) error {
	_, err := s.invoke(ctx, "insert", "--run", strconv.Itoa(run), "--config-name", configName, "--dir", dir)
	return err
}

func (s *CLIStore) Update(ctx context.Context, run int, configName, dir string) error {
	_, err := s.invoke(ctx, "update", "--run", strconv.Itoa(run), "--config-name", configName, "--dir", dir)
	return err
}

func (s *CLIStore) Export(ctx context.Context, run int, destDir string) error {
	_, err := s.invoke(ctx, "export", "--run", strconv.Itoa(run), "--dest", destDir)
	return err
}
