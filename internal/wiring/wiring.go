// Package wiring builds the concrete adapters a dispatcher run needs from
// a loaded Config: the configuration-store transport (driver, cli-local,
// or cli-remote), the HTTP archive store, and the notification fan-out.
// The metrics pusher is not built here (cmd/archiver attaches it). Kept
// separate from cmd/archiver so the construction logic can be exercised
// without a cobra.Command in the loop.
package wiring

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vitaliisemenov/run-record-archiver/internal/archivestore"
	"github.com/vitaliisemenov/run-record-archiver/internal/config"
	"github.com/vitaliisemenov/run-record-archiver/internal/configstore"
	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/notify"
)

// OpenConfigurationStore resolves the configured transport mode into a
// configstore.Store (spec §9: driver mode clamps worker concurrency to 1
// via Store.MaxConcurrency).
func OpenConfigurationStore(ctx context.Context, cfg config.ConfigurationStoreConfig, logger *slog.Logger) (configstore.Store, error) {
	switch cfg.Mode {
	case config.ModeDriver:
		dialect := configstore.Dialect(cfg.Dialect)
		if dialect == "" {
			dialect = configstore.DialectSQLite
		}
		return configstore.Open(ctx, dialect, cfg.URI, logger)

	case config.ModeCLILocal:
		return configstore.NewCLIStore(cfg.CLIToolPath, logger), nil

	case config.ModeCLIRemote:
		auth, err := privateKeyAuth(cfg.RemoteKeyPath)
		if err != nil {
			return nil, err
		}
		return configstore.NewCLIStoreOverSSH(configstore.SSHConfig{
			Addr:          cfg.RemoteHost,
			User:          cfg.RemoteUser,
			Auth:          []ssh.AuthMethod{auth},
			HostKeyCB:     ssh.InsecureIgnoreHostKey(),
			ToolPath:      cfg.CLIToolPath,
			RemoteWorkDir: cfg.RemoteWorkDir,
		}, logger)

	default:
		return nil, errs.New(errs.KindConfiguration, "unknown configuration_store.mode").WithField("mode", string(cfg.Mode))
	}
}

// OpenArchiveStore builds the HTTP-backed archive store.
func OpenArchiveStore(ctx context.Context, cfg config.ArchiveStoreConfig, logger *slog.Logger) (archivestore.Store, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return archivestore.NewHTTPStore(ctx, cfg.URL, cfg.User, cfg.Password, timeout, logger)
}

// BuildNotifier assembles the configured notification sinks into a single
// fan-out Sink (spec §7: "a consolidated notification at stage end").
func BuildNotifier(cfg config.ReportingConfig) notify.Sink {
	var sinks notify.Multi
	if cfg.SMTP.Enabled {
		sinks = append(sinks, &notify.SMTPSink{
			Host:     cfg.SMTP.Host,
			Port:     portString(cfg.SMTP.Port),
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	}
	if cfg.Slack.Enabled {
		sinks = append(sinks, &notify.SlackSink{WebhookURL: cfg.Slack.WebhookURL})
	}
	return sinks
}

func privateKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "read remote_key_path", err).WithField("path", keyPath)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "parse remote_key_path", err).WithField("path", keyPath)
	}
	return ssh.PublicKeys(signer), nil
}

func portString(port int) string {
	if port == 0 {
		port = 25
	}
	return strconv.Itoa(port)
}
