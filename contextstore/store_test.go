package contextstore

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate{}.Count(tt.text), "Count(%q)", tt.text)
	}
}

func TestNewTokenizer(t *testing.T) {
	tok, err := NewTokenizer("")
	require.NoError(t, err)
	assert.IsType(t, Estimate{}, tok)

	_, err = NewTokenizer("no_such_encoding")
	assert.Error(t, err)
}

func TestTierAssignment(t *testing.T) {
	s := New(1000)
	s.SetFocus("pkg/server.go", "pkg/handler.go", "internal/")

	tests := []struct {
		source string
		want   Tier
	}{
		{"pkg/server.go", TierHigh},
		{"pkg/handler.go", TierMedium},
		{"internal/db/conn.go", TierMedium},
		{"pkg/server.go.orig", TierLow},
		{"README.md", TierLow},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			item, ok := s.Add(tt.source, "x")
			require.True(t, ok)
			assert.Equal(t, tt.want, item.Tier)
		})
	}
}

func TestBudgetNeverExceeded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New(500)
	s.SetFocus("f3", "f1", "f2")

	for i := 0; i < 300; i++ {
		source := fmt.Sprintf("f%d", rng.Intn(20))
		content := strings.Repeat("w", rng.Intn(1200))
		s.Add(source, content)
		require.LessOrEqual(t, s.TotalTokens(), s.Budget(), "after add %d", i)
	}
}

func TestTierPrecedenceOnEviction(t *testing.T) {
	s := New(100)
	s.SetFocus("main.go")

	// The LOW item matches the query perfectly; it must still lose.
	_, ok := s.Add("notes.txt", strings.Repeat("query ", 40)) // 60 tokens
	require.True(t, ok)
	high, ok := s.Add("main.go", strings.Repeat("h", 240)) // 60 tokens
	require.True(t, ok)
	assert.Equal(t, TierHigh, high.Tier)

	_, lowKept := s.Get("notes.txt")
	assert.False(t, lowKept)
	_, highKept := s.Get("main.go")
	assert.True(t, highKept)
	assert.LessOrEqual(t, s.TotalTokens(), 100)
}

func TestEvictsLeastRecentlyAccessedWithinTier(t *testing.T) {
	s := New(30)
	s.Add("a", strings.Repeat("a", 40)) // 10
	s.Add("b", strings.Repeat("b", 40)) // 10
	s.Add("c", strings.Repeat("c", 40)) // 10

	_, ok := s.Get("a") // a is now most recent
	require.True(t, ok)

	s.Add("d", strings.Repeat("d", 40))

	_, okA := s.Get("a")
	_, okB := s.Get("b")
	assert.True(t, okA)
	assert.False(t, okB, "b was least recently accessed")
	assert.Equal(t, 3, s.Len())
}

func TestLoneOversizedItemIsTruncated(t *testing.T) {
	s := New(10)

	item, ok := s.Add("big", strings.Repeat("z", 200))
	require.True(t, ok)
	assert.True(t, item.Truncated)
	assert.Equal(t, 10, item.Tokens)
	assert.Equal(t, strings.Repeat("z", 40), item.Content)
	assert.Equal(t, 10, s.TotalTokens())
}

func TestAddReplacesSameSource(t *testing.T) {
	s := New(100)
	s.Add("a", strings.Repeat("x", 40))
	s.Add("a", strings.Repeat("y", 80))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 20, s.TotalTokens())
}

func TestRetrieveRanking(t *testing.T) {
	s := New(1000)
	s.SetFocus("cur.go", "rel.go")
	s.Add("low-match", "database connection pool")
	s.Add("low-other", "unrelated text")
	s.Add("rel.go", "nothing relevant")
	s.Add("cur.go", "also nothing")

	got := s.Retrieve("database pool", 0)
	require.Len(t, got, 4)
	assert.Equal(t, "cur.go", got[0].Source)
	assert.Equal(t, "rel.go", got[1].Source)
	assert.Equal(t, "low-match", got[2].Source, "overlap ranks within a tier")
	assert.Equal(t, "low-other", got[3].Source)

	limited := s.Retrieve("database", 2)
	assert.Len(t, limited, 2)
}

func TestRetrieveRecencyBreaksTies(t *testing.T) {
	s := New(1000)
	s.Add("old", "same")
	s.Add("new", "same")

	got := s.Retrieve("", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Source)
}

func TestUsageStats(t *testing.T) {
	s := New(1000)
	s.Add("b.go", strings.Repeat("b", 40))
	s.Add("a.go", strings.Repeat("a", 20))

	s.MarkUsed("b.go")
	s.MarkUsed("a.go")
	s.MarkUsed("a.go")
	s.MarkUsed("missing.go")

	u := s.UsageStats()
	assert.Equal(t, []string{"a.go", "b.go", "missing.go"}, u.FilesUsed)
	assert.Equal(t, 15, u.TokensUsed)
	assert.Equal(t, 2, u.Items)
	assert.Equal(t, 15, u.TotalTokens)
	assert.Equal(t, 1000, u.Budget)

	s.ResetUsage()
	u = s.UsageStats()
	assert.Empty(t, u.FilesUsed)
	assert.Zero(t, u.TokensUsed)
	assert.Equal(t, 2, u.Items)
}

func TestSetBudgetAndClear(t *testing.T) {
	s := New(1000)
	s.Add("a", strings.Repeat("a", 400))
	s.Add("b", strings.Repeat("b", 400))

	s.SetBudget(150)
	assert.LessOrEqual(t, s.TotalTokens(), 150)
	assert.Equal(t, 1, s.Len())

	s.SetFocus("x")
	s.Clear()
	assert.Zero(t, s.Len())
	assert.Zero(t, s.TotalTokens())
	assert.Equal(t, DefaultBudget, s.Budget())

	item, _ := s.Add("x", "y")
	assert.Equal(t, TierLow, item.Tier, "focus is cleared")
}

func TestFocusEntries(t *testing.T) {
	s := New(1000)
	assert.Empty(t, s.Focus())

	s.SetFocus("pkg/server.go", "pkg/", "cmd/main.go")
	assert.Equal(t, []FocusEntry{
		{Path: "cmd/main.go", Tier: TierMedium},
		{Path: "pkg/", Tier: TierMedium},
		{Path: "pkg/server.go", Tier: TierHigh},
	}, s.Focus())

	s.SetFocus("")
	assert.Empty(t, s.Focus())
}
