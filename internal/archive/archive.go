// Package archive persists finished artifact bundles.
//
// Directory structure of the local archiver:
//
//	{basePath}/{project}/{runID}.json[.gz]
package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/agentoven/uiforge/pkg/models"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("archived run not found")

// Meta describes the run a bundle came from.
type Meta struct {
	RunID       string                   `json:"run_id"`
	SessionID   string                   `json:"session_id"`
	ProjectID   string                   `json:"project_id"`
	Tool        models.ToolKind          `json:"tool"`
	CompletedAt time.Time                `json:"completed_at"`
	Summary     *models.TelemetrySummary `json:"summary,omitempty"`
}

// Record is the archived document.
type Record struct {
	Meta   Meta                  `json:"meta"`
	Bundle *models.ArtifactBundle `json:"bundle"`
}

// Archiver is the auto-save sink for successful runs.
type Archiver interface {
	Kind() string
	Save(ctx context.Context, bundle *models.ArtifactBundle, meta Meta) (string, error)
	Load(ctx context.Context, projectID, runID string) (*Record, error)
	HealthCheck(ctx context.Context) error
}

// ── Local File Archiver ─────────────────────────────────────

// LocalArchiver writes one JSON document per run to a local directory.
type LocalArchiver struct {
	basePath string
	compress bool
}

// NewLocalArchiver creates a file-based archiver. If basePath is empty it
// defaults to "~/.uiforge/archive".
func NewLocalArchiver(basePath string, compress bool) *LocalArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = filepath.Join(os.TempDir(), "uiforge", "archive")
		} else {
			basePath = filepath.Join(home, ".uiforge", "archive")
		}
	}
	return &LocalArchiver{basePath: basePath, compress: compress}
}

func (a *LocalArchiver) Kind() string { return "local" }

// BasePath returns the archive root.
func (a *LocalArchiver) BasePath() string { return a.basePath }

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// safeName keeps ids usable as a single path element.
func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func (a *LocalArchiver) path(projectID, runID string, compressed bool) string {
	name := safeName(runID) + ".json"
	if compressed {
		name += ".gz"
	}
	return filepath.Join(a.basePath, safeName(projectID), name)
}

// Save writes the bundle atomically: a temp file in the same directory is
// renamed into place once fully written.
func (a *LocalArchiver) Save(ctx context.Context, bundle *models.ArtifactBundle, meta Meta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if meta.RunID == "" {
		return "", fmt.Errorf("archive: run id is required")
	}
	fpath := a.path(meta.ProjectID, meta.RunID, a.compress)
	dir := filepath.Dir(fpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".run-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := a.encode(tmp, Record{Meta: meta, Bundle: bundle}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode run %s: %w", meta.RunID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fpath); err != nil {
		return "", fmt.Errorf("rename archive file: %w", err)
	}

	log.Debug().
		Str("path", fpath).
		Str("run_id", meta.RunID).
		Str("project", meta.ProjectID).
		Msg("Archived artifact bundle to local file")

	return fpath, nil
}

func (a *LocalArchiver) encode(w io.Writer, rec Record) error {
	if !a.compress {
		return json.NewEncoder(w).Encode(rec)
	}
	gw := gzip.NewWriter(w)
	if err := json.NewEncoder(gw).Encode(rec); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// Load reads a previously archived run, compressed or not.
func (a *LocalArchiver) Load(_ context.Context, projectID, runID string) (*Record, error) {
	for _, compressed := range []bool{a.compress, !a.compress} {
		fpath := a.path(projectID, runID, compressed)
		f, err := os.Open(fpath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open archive file: %w", err)
		}
		defer f.Close()

		var r io.Reader = f
		if compressed {
			gr, err := gzip.NewReader(f)
			if err != nil {
				return nil, fmt.Errorf("open gzip stream: %w", err)
			}
			defer gr.Close()
			r = gr
		}
		var rec Record
		if err := json.NewDecoder(r).Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode archive %s: %w", fpath, err)
		}
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, projectID, runID)
}

func (a *LocalArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
