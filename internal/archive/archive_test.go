package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentoven/uiforge/internal/archive"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() *models.ArtifactBundle {
	score := models.UniformScore(8.5)
	return &models.ArtifactBundle{
		Markup:     "<div>hi</div>",
		Style:      "div{color:var(--primary)}",
		Stages:     map[string]string{"generate": "<div>hi</div>"},
		DNA:        models.DesignDNA{"primary": {Name: "primary", Value: "#0044ff"}},
		FinalScore: &score,
	}
}

func TestLocalArchiver_SaveLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "gzip"}[compress], func(t *testing.T) {
			dir := t.TempDir()
			a := archive.NewLocalArchiver(dir, compress)

			meta := archive.Meta{RunID: "run-1", ProjectID: "acme", Tool: models.ToolComponent, CompletedAt: time.Now().UTC()}
			path, err := a.Save(context.Background(), sampleBundle(), meta)
			require.NoError(t, err)

			want := filepath.Join(dir, "acme", "run-1.json")
			if compress {
				want += ".gz"
			}
			assert.Equal(t, want, path)
			assert.FileExists(t, path)

			rec, err := a.Load(context.Background(), "acme", "run-1")
			require.NoError(t, err)
			assert.Equal(t, "run-1", rec.Meta.RunID)
			assert.Equal(t, models.ToolComponent, rec.Meta.Tool)
			assert.Equal(t, "<div>hi</div>", rec.Bundle.Markup)
			assert.Equal(t, "#0044ff", rec.Bundle.DNA["primary"].Value)

			entries, err := os.ReadDir(filepath.Join(dir, "acme"))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temp files left behind")
		})
	}
}

func TestLocalArchiver_SanitizesPath(t *testing.T) {
	dir := t.TempDir()
	a := archive.NewLocalArchiver(dir, false)
	path, err := a.Save(context.Background(), sampleBundle(), archive.Meta{RunID: "../../etc", ProjectID: "../x"})
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(filepath.Dir(path)))
	assert.FileExists(t, path)
}

func TestLocalArchiver_Errors(t *testing.T) {
	a := archive.NewLocalArchiver(t.TempDir(), false)

	_, err := a.Save(context.Background(), sampleBundle(), archive.Meta{})
	assert.Error(t, err)

	_, err = a.Load(context.Background(), "acme", "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Save(ctx, sampleBundle(), archive.Meta{RunID: "r"})
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, a.HealthCheck(context.Background()))
	assert.Equal(t, "local", a.Kind())
}

func TestJanitor_Sweep(t *testing.T) {
	dir := t.TempDir()
	a := archive.NewLocalArchiver(dir, false)

	oldPath, err := a.Save(context.Background(), sampleBundle(), archive.Meta{RunID: "old", ProjectID: "p"})
	require.NoError(t, err)
	newPath, err := a.Save(context.Background(), sampleBundle(), archive.Meta{RunID: "new", ProjectID: "p"})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, os.Chtimes(oldPath, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))

	stats := archive.NewJanitor(a, 24*time.Hour, time.Hour).Sweep(now)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Purged)
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)

	stats = archive.NewJanitor(a, 0, time.Hour).Sweep(now.Add(1000 * time.Hour))
	assert.Zero(t, stats.Purged)
}
