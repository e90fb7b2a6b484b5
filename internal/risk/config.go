package risk

import (
	"fmt"
	"regexp"
)

// Config holds every tunable of the classifier.
type Config struct {
	HighRiskPatterns   []string       `koanf:"high_risk_patterns"`
	MediumRiskPatterns []string       `koanf:"medium_risk_patterns"`
	CriticalKeywords   []string       `koanf:"critical_keywords"`
	HighRiskScopes     []string       `koanf:"high_risk_scopes"`
	TypeWeights        map[string]int `koanf:"type_weights"`
	UnknownTypeWeight  int            `koanf:"unknown_type_weight"`
	Weights            Weights        `koanf:"weights"`
	FileCount          Thresholds     `koanf:"file_count"`
	DiffLines          Thresholds     `koanf:"diff_lines"`
	Levels             Thresholds     `koanf:"levels"`
}

// Weights are the score contributions of each factor.
type Weights struct {
	HighRiskPath     int `koanf:"high_risk_path"`
	MediumRiskPath   int `koanf:"medium_risk_path"`
	HighFileCount    int `koanf:"high_file_count"`
	MediumFileCount  int `koanf:"medium_file_count"`
	Keyword          int `koanf:"keyword"`
	LargeDiff        int `koanf:"large_diff"`
	MediumDiff       int `koanf:"medium_diff"`
	Scope            int `koanf:"scope"`
	RecentRegression int `koanf:"recent_regression"`
}

// Thresholds is a medium/high pair. Values at or above High are high.
type Thresholds struct {
	Medium int `koanf:"medium"`
	High   int `koanf:"high"`
}

// DefaultConfig returns the stock scoring table.
func DefaultConfig() Config {
	return Config{
		HighRiskPatterns: []string{
			`(^|/)auth/`,
			`(^|/)security/`,
			`(^|/)middleware/`,
			`(^|/)server/(index|app|main)\.[a-z]+$`,
			`(^|/)(db|database)/`,
			`(^|/)migrations?/`,
			`\.sql$`,
			`(^|/)payments?/`,
			`(^|/)crypto/`,
			`(^|/)\.env`,
			`(^|/)secrets?/`,
		},
		MediumRiskPatterns: []string{
			`(^|/)api/`,
			`(^|/)routes/`,
			`(^|/)services?/`,
			`(^|/)models?/`,
			`(^|/)config/`,
			`(^|/)hooks/`,
			`\.ya?ml$`,
			`(^|/)Dockerfile$`,
			`(^|/)package\.json$`,
			`(^|/)go\.mod$`,
		},
		CriticalKeywords: []string{
			"password", "secret", "token", "credential", "private key", "api key",
			"auth", "sudo", "admin", "permission", "encryption",
			"delete", "drop table", "truncate", "rm -rf", "eval(", "exec(",
		},
		HighRiskScopes: []string{"backend", "security", "auth", "admin", "database"},
		TypeWeights: map[string]int{
			"security":    25,
			"performance": 10,
			"bugfix":      5,
			"feature":     8,
			"refactor":    3,
			"style":       1,
		},
		UnknownTypeWeight: 10,
		Weights: Weights{
			HighRiskPath:     30,
			MediumRiskPath:   10,
			HighFileCount:    20,
			MediumFileCount:  5,
			Keyword:          15,
			LargeDiff:        15,
			MediumDiff:       5,
			Scope:            10,
			RecentRegression: 10,
		},
		FileCount: Thresholds{Medium: 8, High: 15},
		DiffLines: Thresholds{Medium: 150, High: 500},
		Levels:    Thresholds{Medium: 20, High: 50},
	}
}

// Validate checks thresholds and pattern syntax.
func (c Config) Validate() error {
	for _, t := range []struct {
		name string
		th   Thresholds
	}{
		{"file_count", c.FileCount},
		{"diff_lines", c.DiffLines},
		{"levels", c.Levels},
	} {
		if t.th.Medium <= 0 || t.th.High <= 0 {
			return fmt.Errorf("risk.%s thresholds must be positive", t.name)
		}
		if t.th.Medium > t.th.High {
			return fmt.Errorf("risk.%s medium (%d) exceeds high (%d)", t.name, t.th.Medium, t.th.High)
		}
	}
	if _, err := compileAll(c.HighRiskPatterns); err != nil {
		return fmt.Errorf("risk.high_risk_patterns: %w", err)
	}
	if _, err := compileAll(c.MediumRiskPatterns); err != nil {
		return fmt.Errorf("risk.medium_risk_patterns: %w", err)
	}
	return nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
