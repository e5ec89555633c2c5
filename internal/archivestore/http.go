package archivestore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// HTTPStore is the archive-store adapter's HTTP transport, grounded on
// the teacher's WebhookHTTPClient (internal/infrastructure/publishing):
// same pooled-transport tuning and TLS floor, generalized from a
// fire-and-forget webhook POST to a small blob-storage REST contract
// (list/upload/download over a single base URL). net/http is stdlib —
// justified in DESIGN.md, since the pack carries no third-party HTTP
// client and the teacher's own adapters are built directly on net/http.
type HTTPStore struct {
	baseURL  string
	user     string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPStore dials baseURL and validates reachability via a cheap
// server-version call; a failing version check is a hard initialization
// error (spec §4.4).
func NewHTTPStore(ctx context.Context, baseURL, user, password string, timeout time.Duration, logger *slog.Logger) (*HTTPStore, error) {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: time.Second,
		},
	}

	s := &HTTPStore{baseURL: baseURL, user: user, password: password, client: client, logger: logger}
	if err := s.checkVersion(ctx); err != nil {
		return nil, errs.Wrap(errs.KindArchiveStore, "archive store unreachable at initialization", err).WithField("base_url", baseURL)
	}
	return s, nil
}

func (s *HTTPStore) checkVersion(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from version endpoint", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	req.Header.Set("User-Agent", "run-record-archiver/1.0")
	return req, nil
}

func (s *HTTPStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/runs", nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindArchiveStore, "build list-runs request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindArchiveStore, "list runs", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindArchiveStore, "list runs failed").WithField("status", resp.StatusCode)
	}

	var runs []int
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return nil, errs.Wrap(errs.KindArchiveStore, "decode run list", err)
	}
	out := make(map[int]struct{}, len(runs))
	for _, r := range runs {
		out[r] = struct{}{}
	}
	return out, nil
}

func (s *HTTPStore) Upload(ctx context.Context, run int, blobText string) (string, error) {
	existsReq, err := s.newRequest(ctx, http.MethodHead, "/runs/"+strconv.Itoa(run), nil)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "build presence check request", err).WithRun(run)
	}
	existsResp, err := s.client.Do(existsReq)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "presence check", err).WithRun(run)
	}
	existsResp.Body.Close()
	if existsResp.StatusCode == http.StatusOK {
		s.logger.Warn("run already present in archive store, skipping upload", "run", run)
		return AlreadyPresentVersion, nil
	}

	version := uuid.New().String()
	req, err := s.newRequest(ctx, http.MethodPut, "/runs/"+strconv.Itoa(run), bytes.NewBufferString(blobText))
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "build upload request", err).WithRun(run)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Archive-Version", version)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "upload blob", err).WithRun(run)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", errs.New(errs.KindArchiveStore, "upload rejected").WithRun(run).
			WithField("status", resp.StatusCode).WithField("body", string(body))
	}
	return version, nil
}

func (s *HTTPStore) Download(ctx context.Context, run int) (string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/runs/"+strconv.Itoa(run), nil)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "build download request", err).WithRun(run)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "download blob", err).WithRun(run)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", errs.New(errs.KindArchiveStore, "not-found").WithRun(run)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindArchiveStore, "download failed").WithRun(run).WithField("status", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Wrap(errs.KindArchiveStore, "read download body", err).WithRun(run)
	}
	return string(body), nil
}
