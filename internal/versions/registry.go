// Package versions implements the Engine Versions Registry (spec
// §4.5): the local inventory of installed engines and the on-demand
// installer that fetches, verifies, and unpacks new ones from the CDN.
package versions

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/engine"
)

// Registry tracks installed engine versions and installs new ones on
// demand, de-duplicating concurrent installs of the same version
// (spec §4.5 step 9).
type Registry struct {
	cfg        config.Config
	httpClient *http.Client
	onVersions func([]string)

	stop       chan struct{}
	installSF  singleflight.Group
}

// New returns a Registry for cfg. onVersions is invoked with the full
// sorted version list on the initial scan and every subsequent change
// (spec §4.5 Inventory); it may be nil.
func New(cfg config.Config, onVersions func([]string)) *Registry {
	return &Registry{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		onVersions: onVersions,
		stop:       make(chan struct{}),
	}
}

// Start begins the inventory watch; it returns once the initial scan
// has fired onVersions. Callers should call Stop when done.
func (r *Registry) Start() {
	ready := make(chan struct{})
	go func() {
		first := true
		watch(r.cfg.EnginesDir, r.stop, func(versions []string) {
			if r.onVersions != nil {
				r.onVersions(versions)
			}
			if first {
				first = false
				close(ready)
			}
		})
	}()
	<-ready
}

// Stop halts the inventory watch goroutine.
func (r *Registry) Stop() {
	close(r.stop)
}

// Versions returns the current inventory (a synchronous rescan, since
// the registry has no bounded-staleness requirement beyond the watch
// cadence already described in spec §4.5).
func (r *Registry) Versions() ([]string, error) {
	return scanVersions(r.cfg.EnginesDir)
}

// BinaryPath returns the expected dedicated-server executable path for
// version under engines/ (spec §6.4).
func (r *Registry) BinaryPath(version string) string {
	return filepath.Join(r.cfg.EnginesDir, version, engine.BinaryName())
}

// Install ensures version is present under engines/, downloading and
// extracting it if necessary (spec §4.5 Install).
func (r *Registry) Install(ctx context.Context, version string) error {
	_, err, _ := r.installSF.Do(version, func() (any, error) {
		return nil, r.installOnce(ctx, version)
	})
	return err
}

func (r *Registry) installOnce(ctx context.Context, version string) error {
	if _, err := os.Stat(r.BinaryPath(version)); err == nil {
		return nil // spec §4.5 step 1: already installed
	}

	timeout := time.Duration(r.cfg.EngineInstallTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rel, err := findRelease(ctx, r.httpClient, r.cfg.EngineCdnBaseUrl, version)
	if err != nil {
		return err
	}

	downloadsDir := filepath.Join(r.cfg.EnginesDir, ".downloads")
	if err := os.MkdirAll(downloadsDir, 0o755); err != nil {
		return fmt.Errorf("versions: creating downloads dir: %w", err)
	}
	archivePath := filepath.Join(downloadsDir, rel.Filename)
	defer os.Remove(archivePath)

	if err := r.downloadWithRetry(ctx, rel, archivePath); err != nil {
		return err
	}

	tempDir := filepath.Join(r.cfg.EnginesDir, fmt.Sprintf(".tmp-install-%s-%s", version, uuid.NewString()))
	defer os.RemoveAll(tempDir)

	if err := extract(ctx, archivePath, tempDir); err != nil {
		return err
	}

	extractedBinary := filepath.Join(tempDir, engine.BinaryName())
	if _, err := os.Stat(extractedBinary); err != nil {
		return fmt.Errorf("versions: extracted archive missing %s: %w", engine.BinaryName(), err)
	}

	finalDir := filepath.Join(r.cfg.EnginesDir, version)
	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("versions: removing stale install dir: %w", err)
	}
	if err := os.Rename(tempDir, finalDir); err != nil {
		return fmt.Errorf("versions: renaming install dir: %w", err)
	}
	return nil
}

// downloadWithRetry downloads rel's first mirror to dest, verifying
// MD5 and retrying with exponential backoff on failure (spec §4.5
// steps 3-4).
func (r *Registry) downloadWithRetry(ctx context.Context, rel *release, dest string) error {
	maxAttempts := r.cfg.EngineDownloadMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseMs := r.cfg.EngineDownloadRetryBackoffBaseMs
	if baseMs <= 0 {
		baseMs = 1000
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(baseMs) * time.Millisecond
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(baseMs) * time.Millisecond * time.Duration(uint64(1)<<uint(maxAttempts))
	exp.MaxElapsedTime = 0 // attempt count is bounded by WithMaxRetries below, not elapsed time
	exp.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		return r.downloadAndVerify(ctx, rel.Mirrors[0], rel.MD5, dest)
	}, bo)
}

func (r *Registry) downloadAndVerify(ctx context.Context, mirrorURL, wantMD5, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirrorURL, nil)
	if err != nil {
		return fmt.Errorf("versions: building download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("versions: downloading %s: %w", mirrorURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("versions: download %s returned %s", mirrorURL, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("versions: creating %s: %w", dest, err)
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		return fmt.Errorf("versions: writing %s: %w", dest, err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, wantMD5) {
		return fmt.Errorf("versions: md5 mismatch for %s: got %s, want %s", dest, got, wantMD5)
	}
	return nil
}

// extract unpacks archivePath into destDir using the 7-Zip CLI (spec
// §4.5 step 5); destDir must not already exist.
func extract(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("versions: creating extract dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "7z", "x", "-y", "-o"+destDir, archivePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("versions: 7z extract failed: %w: %s", err, out)
	}
	return nil
}
