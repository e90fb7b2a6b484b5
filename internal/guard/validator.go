// Package guard decides which files an automated proposal may touch.
package guard

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"go.uber.org/zap"
)

// Operation kinds.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
	OpRename = "rename"
)

// FileOperation is one file a proposal wants to change. Content is
// optional; when present it is scanned for secrets.
type FileOperation struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
	Content   string `json:"content,omitempty"`
}

// Verdict is the guard's decision for one file.
type Verdict struct {
	Path           string `json:"path"`
	Operation      string `json:"operation"`
	Allowed        bool   `json:"allowed"`
	RequiresReview bool   `json:"requiresReview"`
	Rule           string `json:"rule,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// BatchResult aggregates verdicts for a proposal's file set.
type BatchResult struct {
	HasViolations  bool      `json:"hasViolations"`
	RequiresReview bool      `json:"requiresReview"`
	Results        []Verdict `json:"results"`
	Violations     []Verdict `json:"violations,omitempty"`
}

// ReviewPaths returns the paths flagged for manual review.
func (b BatchResult) ReviewPaths() []string {
	var out []string
	for _, v := range b.Results {
		if v.Allowed && v.RequiresReview {
			out = append(out, v.Path)
		}
	}
	return out
}

// Validator applies Rules and an optional ContentScanner.
type Validator struct {
	rules   atomic.Pointer[Rules]
	scanner ContentScanner
	logger  *logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithScanner enables content scanning.
func WithScanner(s ContentScanner) Option {
	return func(v *Validator) { v.scanner = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a Validator with rules.
func NewValidator(rules Rules, opts ...Option) (*Validator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	v.rules.Store(&rules)
	return v, nil
}

// SetRules swaps the active rules.
func (v *Validator) SetRules(rules Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	v.rules.Store(&rules)
	return nil
}

// Rules returns the active rules.
func (v *Validator) Rules() Rules {
	return *v.rules.Load()
}

// ValidateFileOperation classifies a single path.
func (v *Validator) ValidateFileOperation(p, op string) Verdict {
	return v.validate(context.Background(), FileOperation{Path: p, Operation: op})
}

// ValidateBatch classifies every file. A single denied file sets
// HasViolations and must block the whole batch.
func (v *Validator) ValidateBatch(ctx context.Context, ops []FileOperation) BatchResult {
	res := BatchResult{Results: make([]Verdict, 0, len(ops))}
	for _, op := range ops {
		verdict := v.validate(ctx, op)
		res.Results = append(res.Results, verdict)
		if !verdict.Allowed {
			res.HasViolations = true
			res.Violations = append(res.Violations, verdict)
		} else if verdict.RequiresReview {
			res.RequiresReview = true
		}
	}
	if res.HasViolations {
		v.logger.Warn(ctx, "guard violations", zap.Int("violations", len(res.Violations)), zap.Int("files", len(ops)))
	}
	return res
}

func (v *Validator) validate(ctx context.Context, op FileOperation) Verdict {
	if op.Operation == "" {
		op.Operation = OpModify
	}
	verdict := Verdict{Path: op.Path, Operation: op.Operation}

	clean, err := NormalizePath(op.Path)
	if err != nil {
		verdict.Rule = RulePathTraversal
		if strings.TrimSpace(op.Path) == "" {
			verdict.Rule = RuleInvalidPath
		}
		verdict.Reason = err.Error()
		return verdict
	}
	verdict.Path = clean

	rules := v.rules.Load()
	if pattern, ok := firstMatch(rules.NeverTouch, clean); ok {
		verdict.Rule = RuleNeverTouch
		verdict.Pattern = pattern
		verdict.Reason = fmt.Sprintf("%s is protected and must never be changed automatically", clean)
		return verdict
	}

	if v.scanner != nil && op.Content != "" {
		findings, err := v.scanner.Scan(clean, op.Content)
		if err != nil {
			v.logger.Warn(ctx, "content scan failed", zap.String("path", clean), zap.Error(err))
			verdict.Rule = RuleSecretDetected
			verdict.Reason = "content could not be scanned for secrets"
			return verdict
		}
		if len(findings) > 0 {
			verdict.Rule = RuleSecretDetected
			verdict.Reason = fmt.Sprintf("content contains %d secret(s) (%s)", len(findings), findings[0].RuleID)
			return verdict
		}
	}

	verdict.Allowed = true
	switch pattern, ok := firstMatch(rules.ManualReview, clean); {
	case ok:
		verdict.RequiresReview = true
		verdict.Rule = RuleManualReview
		verdict.Pattern = pattern
		verdict.Reason = "configuration or infrastructure change requires manual review"
	default:
		if pattern, ok := firstMatch(rules.AllowAuto, clean); ok {
			verdict.Rule = RuleAllowAuto
			verdict.Pattern = pattern
			return verdict
		}
		verdict.RequiresReview = true
		verdict.Rule = RuleDefault
		verdict.Reason = "no rule matched; manual review required"
	}
	return verdict
}

// NormalizePath cleans a repository-relative path and rejects anything
// that escapes the repository root.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path %q is outside the repository", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the repository root", p)
	}
	return clean, nil
}
