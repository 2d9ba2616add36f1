package sessions_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/agentoven/uiforge/internal/sessions"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sig(token string) models.ThoughtSignature {
	return models.ThoughtSignature{Token: token}
}

func TestForRequest_EmptySession(t *testing.T) {
	m := sessions.NewManager(4)

	payload := m.ForRequest("s1")
	assert.True(t, payload.Empty)
	assert.Empty(t, payload.Signatures)
}

func TestRecord_EvictsOldestFirst(t *testing.T) {
	m := sessions.NewManager(3)
	for i := 1; i <= 5; i++ {
		m.Record("s1", sig(fmt.Sprintf("t%d", i)))
	}

	payload := m.ForRequest("s1")
	require.False(t, payload.Empty)
	assert.Equal(t, []string{"t3", "t4", "t5"}, payload.Signatures)
}

func TestRecentView(t *testing.T) {
	m := sessions.NewManager(5)
	m.Record("s1", sig("a"))
	m.Record("s1", sig("b"))
	m.Record("s1", sig("c"))

	view := m.RecentView("s1", 2)
	require.Len(t, view, 2)
	assert.Equal(t, "b", view[0].Token)
	assert.Equal(t, "c", view[1].Token)

	// More than available returns all, no error.
	assert.Len(t, m.RecentView("s1", 10), 3)
	assert.Empty(t, m.RecentView("unknown", 3))
}

func TestRecentView_ReturnsCopy(t *testing.T) {
	m := sessions.NewManager(5)
	m.Record("s1", sig("a"))

	view := m.RecentView("s1", 1)
	view[0].Token = "mutated"

	assert.Equal(t, "a", m.RecentView("s1", 1)[0].Token)
}

func TestRecord_IgnoresEmptyToken(t *testing.T) {
	m := sessions.NewManager(5)
	m.Record("s1", sig(""))
	assert.True(t, m.ForRequest("s1").Empty)
}

func TestSessionsAreIndependent(t *testing.T) {
	m := sessions.NewManager(2)
	m.Record("a", sig("a1"))
	m.Record("b", sig("b1"))
	m.Record("b", sig("b2"))
	m.Record("b", sig("b3"))

	assert.Equal(t, []string{"a1"}, m.ForRequest("a").Signatures)
	assert.Equal(t, []string{"b2", "b3"}, m.ForRequest("b").Signatures)

	m.Discard("b")
	assert.True(t, m.ForRequest("b").Empty)
	assert.Equal(t, 1, m.Count())
}

func TestOpen_KeepsMetadata(t *testing.T) {
	m := sessions.NewManager(2)
	m.Open(models.Session{ID: "s1", ProjectID: "p1", ToolKind: models.ToolPage})
	m.Record("s1", sig("x"))

	got, ok := m.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, 1, m.Len("s1"))
}

func TestNewManager_NormalizesWindow(t *testing.T) {
	m := sessions.NewManager(0)
	assert.Equal(t, 1, m.Window())
}

func TestConcurrentSessions(t *testing.T) {
	m := sessions.NewManager(4)
	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", s)
			for i := 0; i < 50; i++ {
				m.Record(id, sig(fmt.Sprintf("%s-%d", id, i)))
				_ = m.ForRequest(id)
			}
		}(s)
	}
	wg.Wait()

	for s := 0; s < 8; s++ {
		assert.Equal(t, 4, m.Len(fmt.Sprintf("s%d", s)))
	}
}

func TestProperty_WindowNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		window := rapid.IntRange(1, 16).Draw(t, "window")
		tokens := rapid.SliceOf(rapid.StringMatching(`[a-z0-9]{1,6}`)).Draw(t, "tokens")

		m := sessions.NewManager(window)
		for i, tok := range tokens {
			m.Record("s", sig(tok))
			if m.Len("s") > window {
				t.Fatalf("window %d exceeded after %d records: %d", window, i+1, m.Len("s"))
			}
		}

		// The retained entries are the tail of the input, in order.
		want := tokens
		if len(want) > window {
			want = want[len(want)-window:]
		}
		got := m.ForRequest("s").Signatures
		if len(want) == 0 {
			if !m.ForRequest("s").Empty {
				t.Fatalf("expected empty marker")
			}
			return
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("ForRequest() = %v, want %v", got, want)
		}
	})
}
