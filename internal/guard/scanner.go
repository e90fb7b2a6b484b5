package guard

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret. The secret value itself is never kept.
type Finding struct {
	RuleID      string `json:"ruleId"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// ContentScanner looks for secrets in file content.
type ContentScanner interface {
	Scan(path, content string) ([]Finding, error)
}

// Allowlist excludes paths and content patterns from secret detection.
type Allowlist struct {
	Paths   []string `toml:"paths"`
	Regexes []string `toml:"regexes"`
}

// LoadAllowlist reads the [allowlist] table of a gitleaks-style TOML file.
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Allowlist{}, nil
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode allowlist %s: %w", path, err)
	}
	for _, p := range append(append([]string{}, doc.Allowlist.Paths...), doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("allowlist %s: invalid pattern %q: %w", path, p, err)
		}
	}
	return &doc.Allowlist, nil
}

// GitleaksScanner scans content with the default gitleaks rule set.
type GitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksScanner builds the detector once; allowlist may be nil.
func NewGitleaksScanner(allowlist *Allowlist) (*GitleaksScanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create gitleaks detector: %w", err)
	}
	if allowlist != nil && (len(allowlist.Paths) > 0 || len(allowlist.Regexes) > 0) {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &GitleaksScanner{detector: detector}, nil
}

// Scan implements ContentScanner.
func (s *GitleaksScanner) Scan(path, content string) ([]Finding, error) {
	s.mu.Lock()
	found := s.detector.Detect(detect.Fragment{Raw: content, FilePath: path})
	s.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
	}
	return out, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	entry := &gitleaksConfig.Allowlist{Description: "rolloutd guard allowlist"}
	for _, p := range allowlist.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("allowlist path %q: %w", p, err)
		}
		entry.Paths = append(entry.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, p := range allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("allowlist regex %q: %w", p, err)
		}
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
	return nil
}
