package guard

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule names reported in verdicts.
const (
	RuleNeverTouch     = "never-touch"
	RuleManualReview   = "manual-review"
	RuleAllowAuto      = "allow-auto"
	RuleDefault        = "default"
	RulePathTraversal  = "path-traversal"
	RuleInvalidPath    = "invalid-path"
	RuleSecretDetected = "secret-detected"
)

// Rules are three disjoint groups of doublestar globs, matched in the
// order NeverTouch, ManualReview, AllowAuto.
type Rules struct {
	NeverTouch   []string `koanf:"never_touch" json:"neverTouch"`
	ManualReview []string `koanf:"manual_review" json:"manualReview"`
	AllowAuto    []string `koanf:"allow_auto" json:"allowAuto"`
}

// DefaultRules protects secrets, environment files, key material,
// migrations and core bootstrap, flags configuration and infrastructure
// for review, and lets UI code through.
func DefaultRules() Rules {
	return Rules{
		NeverTouch: []string{
			"**/.env",
			"**/.env.*",
			"**/secrets/**",
			"**/*.pem",
			"**/*.key",
			"**/id_rsa*",
			"**/migrations/**",
			"server/index.*",
			"server/bootstrap.*",
			"cmd/*/main.go",
		},
		ManualReview: []string{
			"**/config/**",
			"**/*.config.*",
			"**/*.yaml",
			"**/*.yml",
			"**/Dockerfile",
			"**/docker-compose*",
			"infra/**",
			"deploy/**",
			"**/*.tf",
			".github/**",
			"package.json",
			"go.mod",
		},
		AllowAuto: []string{
			"src/components/**",
			"client/src/components/**",
			"src/ui/**",
			"**/styles/**",
			"**/*.css",
			"**/*.scss",
			"**/*.md",
		},
	}
}

// Validate rejects malformed glob patterns.
func (r Rules) Validate() error {
	for _, group := range []struct {
		name     string
		patterns []string
	}{
		{"never_touch", r.NeverTouch},
		{"manual_review", r.ManualReview},
		{"allow_auto", r.AllowAuto},
	} {
		for _, p := range group.patterns {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("guard.%s: invalid pattern %q", group.name, p)
			}
		}
	}
	return nil
}

func firstMatch(patterns []string, path string) (string, bool) {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return p, true
		}
	}
	return "", false
}
