package dna_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/agentoven/uiforge/internal/dna"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func tok(name, value string) models.DesignToken {
	return models.DesignToken{Name: name, Value: value}
}

func TestRead_UnknownProjectIsEmpty(t *testing.T) {
	s := dna.NewMemoryStore()

	got, err := s.Read(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtractAndMerge_LastWinsAndNeverRemoves(t *testing.T) {
	s := dna.NewMemoryStore()
	ctx := context.Background()

	_, err := s.ExtractAndMerge(ctx, "p1", []models.DesignToken{tok("primary", "#000"), tok("radius", "4px")})
	require.NoError(t, err)

	merged, err := s.ExtractAndMerge(ctx, "p1", []models.DesignToken{tok("primary", "#0044ff"), tok("spacing", "8px")})
	require.NoError(t, err)

	assert.Equal(t, "#0044ff", merged["primary"].Value)
	assert.Equal(t, "4px", merged["radius"].Value)
	assert.Equal(t, "8px", merged["spacing"].Value)
	assert.Len(t, merged, 3)
}

func TestExtractAndMerge_ProjectsAreScoped(t *testing.T) {
	s := dna.NewMemoryStore()
	ctx := context.Background()

	s.ExtractAndMerge(ctx, "a", []models.DesignToken{tok("primary", "red")})
	s.ExtractAndMerge(ctx, "b", []models.DesignToken{tok("primary", "blue")})

	a, _ := s.Read(ctx, "a")
	b, _ := s.Read(ctx, "b")
	assert.Equal(t, "red", a["primary"].Value)
	assert.Equal(t, "blue", b["primary"].Value)
}

func TestRead_ReturnsSnapshotCopy(t *testing.T) {
	s := dna.NewMemoryStore()
	ctx := context.Background()
	s.ExtractAndMerge(ctx, "p", []models.DesignToken{tok("primary", "red")})

	got, _ := s.Read(ctx, "p")
	got["primary"] = tok("primary", "mutated")

	again, _ := s.Read(ctx, "p")
	assert.Equal(t, "red", again["primary"].Value)
}

func TestExtractAndMerge_SkipsUnnamedTokens(t *testing.T) {
	s := dna.NewMemoryStore()
	merged, err := s.ExtractAndMerge(context.Background(), "p", []models.DesignToken{tok("", "x")})
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestMemoryStore_ConcurrentProjects(t *testing.T) {
	s := dna.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			project := string(rune('a' + i))
			for j := 0; j < 20; j++ {
				s.ExtractAndMerge(ctx, project, []models.DesignToken{tok("primary", project)})
				s.Read(ctx, project)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Read(ctx, "c")
	assert.Equal(t, "c", got["primary"].Value)
}

func TestProperty_MergeSemantics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := dna.NewMemoryStore()
		ctx := context.Background()

		name := rapid.SampledFrom([]string{"primary", "secondary", "radius", "spacing", "font"})
		batches := rapid.SliceOfN(
			rapid.SliceOf(rapid.Custom(func(t *rapid.T) models.DesignToken {
				return tok(name.Draw(t, "name"), rapid.StringMatching(`[#a-z0-9]{1,7}`).Draw(t, "value"))
			})), 1, 12).Draw(t, "batches")

		want := map[string]string{}
		for _, batch := range batches {
			if _, err := s.ExtractAndMerge(ctx, "p", batch); err != nil {
				t.Fatalf("ExtractAndMerge() error = %v", err)
			}
			for _, tk := range batch {
				want[tk.Name] = tk.Value
			}
		}

		got, err := s.Read(ctx, "p")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("Read() has %d tokens, want %d", len(got), len(want))
		}
		for n, v := range want {
			if got[n].Value != v {
				t.Fatalf("token %q = %q, want %q", n, got[n].Value, v)
			}
		}
	})
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("UIFORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("UIFORGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := dna.NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	project := "pg-test-" + t.Name()
	_, err = s.ExtractAndMerge(ctx, project, []models.DesignToken{tok("primary", "#000"), tok("radius", "2px")})
	require.NoError(t, err)
	merged, err := s.ExtractAndMerge(ctx, project, []models.DesignToken{tok("primary", "#fff")})
	require.NoError(t, err)

	assert.Equal(t, "#fff", merged["primary"].Value)
	assert.Equal(t, "2px", merged["radius"].Value)
}
