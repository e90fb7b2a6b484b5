package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultConfig())
	require.NoError(t, err)
	return c
}

func componentPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("src/components/Widget%d.tsx", i)
	}
	return paths
}

func TestClassify_HighRiskSecurityChange(t *testing.T) {
	c := newTestClassifier(t)

	paths := append(componentPaths(19), "server/auth/session.ts")
	a := c.Classify(Input{
		Type:        "security",
		Paths:       paths,
		Description: "Harden password storage for the login form",
	})

	assert.Equal(t, 90, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, 30, a.Factors.Paths.Score)
	assert.Equal(t, []string{"server/auth/session.ts"}, a.Factors.Paths.HighRisk)
	assert.Equal(t, 20, a.Factors.FileCount.Score)
	assert.Equal(t, []string{"password"}, a.Factors.Content.Keywords)
	assert.Equal(t, 25, a.Factors.ChangeType.Score)
	assert.False(t, a.Failed)

	el := CheckAutoApplyEligibility(a)
	assert.False(t, el.Eligible)
	assert.Equal(t, ReasonHighRisk, el.ReasonCode)
}

func TestClassify_Factors(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name      string
		in        Input
		wantScore int
		wantLevel Level
	}{
		{
			name:      "single style change",
			in:        Input{Type: "style", Paths: []string{"src/components/Button.css"}},
			wantScore: 1,
			wantLevel: LevelLow,
		},
		{
			name:      "unknown type",
			in:        Input{Type: "chore", Paths: []string{"README.md"}},
			wantScore: 10,
			wantLevel: LevelLow,
		},
		{
			name:      "medium path and feature",
			in:        Input{Type: "feature", Paths: []string{"server/routes/chat.ts", "src/components/Chat.tsx"}},
			wantScore: 18,
			wantLevel: LevelLow,
		},
		{
			name:      "first pattern wins per file",
			in:        Input{Type: "refactor", Paths: []string{"server/api/auth/token.ts"}},
			wantScore: 33,
			wantLevel: LevelMedium,
		},
		{
			name:      "eight files",
			in:        Input{Type: "refactor", Paths: componentPaths(8)},
			wantScore: 8,
			wantLevel: LevelLow,
		},
		{
			name:      "high risk scopes deduplicated",
			in:        Input{Type: "bugfix", Paths: []string{"README.md"}, Scope: []string{"Backend", "backend", "database", "ui"}},
			wantScore: 25,
			wantLevel: LevelMedium,
		},
		{
			name:      "keywords counted once",
			in:        Input{Type: "bugfix", Paths: []string{"README.md"}, Description: "Token refresh; token expiry", Summary: "fix sudo prompt"},
			wantScore: 35,
			wantLevel: LevelMedium,
		},
		{
			name:      "keywords inside words",
			in:        Input{Type: "bugfix", Paths: []string{"README.md"}, Description: "Force REAUTH after newPassword change"},
			wantScore: 35,
			wantLevel: LevelMedium,
		},
		{
			name:      "medium diff",
			in:        Input{Type: "style", Paths: []string{"a.css"}, DiffLines: 151},
			wantScore: 6,
			wantLevel: LevelLow,
		},
		{
			name:      "large diff",
			in:        Input{Type: "style", Paths: []string{"a.css"}, DiffLines: 501},
			wantScore: 16,
			wantLevel: LevelLow,
		},
		{
			name:      "recent regressions",
			in:        Input{Type: "feature", Paths: []string{"a.css"}, RecentRegressions: 2},
			wantScore: 18,
			wantLevel: LevelLow,
		},
		{
			name:      "threshold fifty is high",
			in:        Input{Type: "security", Paths: []string{"server/middleware/cors.ts"}, Scope: []string{"security"}},
			wantScore: 65,
			wantLevel: LevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.Classify(tt.in)
			assert.Equal(t, tt.wantScore, a.Score, "reasons: %v", a.Reasons)
			assert.Equal(t, tt.wantLevel, a.Level)
		})
	}
}

func TestClassify_FailSafe(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name string
		in   Input
	}{
		{"no files", Input{Type: "style"}},
		{"blank path", Input{Type: "style", Paths: []string{"a.css", "  "}}},
		{"negative diff lines", Input{Type: "style", Paths: []string{"a.css"}, DiffLines: -3}},
		{"garbage diff", Input{Type: "style", Paths: []string{"a.css"}, Diff: "not a diff at all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.Classify(tt.in)
			assert.Equal(t, LevelHigh, a.Level)
			assert.Equal(t, FailedScore, a.Score)
			assert.True(t, a.Failed)
			require.NotEmpty(t, a.Reasons)
			assert.Contains(t, a.Reasons[0], "classification failed")
			assert.False(t, CheckAutoApplyEligibility(a).Eligible)
		})
	}
}

func TestClassify_DiffTakesPrecedence(t *testing.T) {
	c := newTestClassifier(t)

	a := c.Classify(Input{
		Type:      "style",
		Paths:     []string{"src/styles/app.css"},
		Diff:      "--- a/src/styles/app.css\n+++ b/src/styles/app.css\n@@ -1,2 +1,2 @@\n-body { color: red; }\n+body { color: blue; }\n html { margin: 0; }\n",
		DiffLines: 10_000,
	})

	assert.False(t, a.Failed)
	assert.Equal(t, 2, a.Factors.Content.DiffLines)
	assert.Equal(t, 1, a.Score)
}

func TestCheckAutoApplyEligibility(t *testing.T) {
	assert.True(t, CheckAutoApplyEligibility(Assessment{Level: LevelLow}).Eligible)
	assert.True(t, CheckAutoApplyEligibility(Assessment{Level: LevelMedium}).Eligible)

	el := CheckAutoApplyEligibility(Failed(fmt.Errorf("boom")))
	assert.False(t, el.Eligible)
	assert.Contains(t, el.Reason, "could not be classified")
}

func TestNewClassifier_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighRiskPatterns = append(cfg.HighRiskPatterns, "([unclosed")
	_, err := NewClassifier(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Levels = Thresholds{Medium: 60, High: 50}
	_, err = NewClassifier(cfg)
	assert.Error(t, err)
}

func TestParseDiffStats(t *testing.T) {
	patch := "--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,4 @@\n package a\n-var x = 1\n+var x = 2\n+var y = 3\n func f() {}\n--- a/b.go\n+++ b/b.go\n@@ -1 +1 @@\n-package b\n+package bb\n"

	stats, err := ParseDiffStats(patch)
	require.NoError(t, err)
	assert.Equal(t, DiffStats{Files: 2, Added: 3, Removed: 2}, stats)
	assert.Equal(t, 5, stats.Changed())
}
