package configstore

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// SSHConfig names the remote host and credentials for the cli-remote
// transport mode (spec §9: "Remote variant wraps the CLI variant with a
// tar-pipe transport over a secure shell").
type SSHConfig struct {
	Addr          string // host:port
	User          string
	Auth          []ssh.AuthMethod
	HostKeyCB     ssh.HostKeyCallback
	ToolPath      string // path to the configuration-store tool on the remote host
	RemoteWorkDir string // scratch directory on the remote host for tar-pipe transfers
}

// NewCLIStoreOverSSH builds a cli-remote Store: every directory-bearing
// call (insert/update/export) streams a tar archive over the SSH
// connection to/from RemoteWorkDir before invoking ToolPath remotely.
func NewCLIStoreOverSSH(cfg SSHConfig, logger *slog.Logger) (*CLIStore, error) {
	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            cfg.Auth,
		HostKeyCallback: cfg.HostKeyCB,
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "dial ssh host", err).WithField("addr", cfg.Addr)
	}

	s := &CLIStore{toolPath: cfg.ToolPath, logger: logger}
	remote := &sshRunner{client: client, cfg: cfg, logger: logger}
	s.run = remote.run
	return s, nil
}

type sshRunner struct {
	client *ssh.Client
	cfg    SSHConfig
	logger *slog.Logger
}

// run executes args on the remote host. Any "--dir <path>" argument is
// tar-piped to a fresh remote scratch directory first and rewritten to
// point there; any "--dest <path>" argument is rewritten to a fresh
// remote scratch directory, run remotely, then tar-piped back to the
// local path afterward.
func (r *sshRunner) run(ctx context.Context, args []string) (string, string, error) {
	remoteArgs := make([]string, len(args))
	copy(remoteArgs, args)

	var uploadLocal, downloadLocal, remoteScratch string
	for i, a := range args {
		switch a {
		case "--dir":
			uploadLocal = args[i+1]
			remoteScratch = r.scratchPath()
			remoteArgs[i+1] = remoteScratch
		case "--dest":
			downloadLocal = args[i+1]
			remoteScratch = r.scratchPath()
			remoteArgs[i+1] = remoteScratch
		}
	}

	if uploadLocal != "" {
		if err := r.uploadDir(ctx, uploadLocal, remoteScratch); err != nil {
			return "", "", err
		}
	}

	stdout, stderr, err := r.runRemoteCommand(ctx, remoteArgs)
	if err != nil {
		return stdout, stderr, err
	}

	if downloadLocal != "" {
		if err := r.downloadDir(ctx, remoteScratch, downloadLocal); err != nil {
			return stdout, stderr, err
		}
	}
	return stdout, stderr, nil
}

func (r *sshRunner) scratchPath() string {
	return r.cfg.RemoteWorkDir + "/archiver-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func (r *sshRunner) runRemoteCommand(ctx context.Context, args []string) (string, string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	cmd := shellQuote(r.cfg.ToolPath) + " " + strings.Join(quoted, " ")

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		return stdout.String(), stderr.String(), err
	}
}

// uploadDir tar-pipes the contents of localDir into remoteDir via
// "tar xf -" on a dedicated SSH session's stdin.
func (r *sshRunner) uploadDir(ctx context.Context, localDir, remoteDir string) error {
	session, err := r.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	pr, pw := io.Pipe()
	session.Stdin = pr

	cmd := fmt.Sprintf("mkdir -p %s && tar -xf - -C %s", shellQuote(remoteDir), shellQuote(remoteDir))
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(cmd) }()

	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(localDir, path)
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			_, err = tw.Write(data)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()

	if err := <-runErr; err != nil {
		return fmt.Errorf("remote tar extract: %w", err)
	}
	return nil
}

// downloadDir tar-pipes remoteDir back into localDir via "tar cf -" read
// from a dedicated SSH session's stdout.
func (r *sshRunner) downloadDir(ctx context.Context, remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}

	session, err := r.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("tar -cf - -C %s .", shellQuote(remoteDir))
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("remote tar create: %w", err)
	}

	tr := tar.NewReader(stdout)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read remote tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(localDir, hdr.Name), data, 0o644); err != nil {
			return err
		}
	}
	return session.Wait()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
