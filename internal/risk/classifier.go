// Package risk scores code-change proposals.
//
// Classification is deterministic and side-effect free: the same Input and
// Config always produce the same Assessment. Any failure while classifying
// yields a high-risk assessment rather than an error, so callers never
// treat a proposal they could not score as safe.
package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Level is a coarse risk bucket.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// FailedScore is the sentinel score of a fail-safe assessment.
const FailedScore = -1

// ReasonHighRisk is the eligibility reason code for high-risk proposals.
const ReasonHighRisk = "HIGH_RISK_MANUAL_APPROVAL_REQUIRED"

// Input is everything the classifier looks at.
type Input struct {
	Type        string
	Scope       []string
	Paths       []string
	Description string
	Summary     string
	// Diff is an optional unified diff. When set, its changed-line count
	// takes precedence over DiffLines.
	Diff      string
	DiffLines int
	// RecentRegressions is the number of recent regressed outcomes on the
	// proposal's KPI.
	RecentRegressions int
}

// Assessment is the classifier's verdict.
type Assessment struct {
	Level   Level    `json:"level"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
	Factors Factors  `json:"factors"`
	Failed  bool     `json:"failed,omitempty"`
}

// Factors breaks the score down by analysis.
type Factors struct {
	Paths      PathFactor    `json:"paths"`
	FileCount  CountFactor   `json:"fileCount"`
	Content    ContentFactor `json:"content"`
	Scope      ScopeFactor   `json:"scope"`
	ChangeType TypeFactor    `json:"changeType"`
	History    HistoryFactor `json:"history"`
}

type PathFactor struct {
	Score      int      `json:"score"`
	HighRisk   []string `json:"highRisk,omitempty"`
	MediumRisk []string `json:"mediumRisk,omitempty"`
}

type CountFactor struct {
	Score int `json:"score"`
	Count int `json:"count"`
}

type ContentFactor struct {
	Score     int      `json:"score"`
	Keywords  []string `json:"keywords,omitempty"`
	DiffLines int      `json:"diffLines"`
}

type ScopeFactor struct {
	Score int      `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

type TypeFactor struct {
	Score int    `json:"score"`
	Type  string `json:"type"`
}

type HistoryFactor struct {
	Score             int `json:"score"`
	RecentRegressions int `json:"recentRegressions"`
}

// Eligibility tells whether a proposal may be applied without manual
// approval.
type Eligibility struct {
	Eligible   bool   `json:"eligible"`
	ReasonCode string `json:"reasonCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Classifier scores proposals against a compiled Config.
type Classifier struct {
	cfg        Config
	high       []*regexp.Regexp
	medium     []*regexp.Regexp
	keywords   []string
	highScopes map[string]bool
}

// NewClassifier compiles cfg.
func NewClassifier(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	high, _ := compileAll(cfg.HighRiskPatterns)
	medium, _ := compileAll(cfg.MediumRiskPatterns)

	c := &Classifier{
		cfg:        cfg,
		high:       high,
		medium:     medium,
		highScopes: make(map[string]bool, len(cfg.HighRiskScopes)),
	}
	seen := map[string]bool{}
	for _, kw := range cfg.CriticalKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		c.keywords = append(c.keywords, kw)
	}
	for _, s := range cfg.HighRiskScopes {
		c.highScopes[strings.ToLower(s)] = true
	}
	return c, nil
}

// Classify scores in. It never returns an error: malformed input and
// internal failures produce a fail-safe high assessment.
func (c *Classifier) Classify(in Input) (a Assessment) {
	defer func() {
		if r := recover(); r != nil {
			a = Failed(fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := validateInput(in); err != nil {
		return Failed(err)
	}

	diffLines := in.DiffLines
	if in.Diff != "" {
		stats, err := ParseDiffStats(in.Diff)
		if err != nil {
			return Failed(err)
		}
		diffLines = stats.Changed()
	}

	var reasons []string
	f := Factors{}

	f.Paths = c.analyzePaths(in.Paths)
	if n := len(f.Paths.HighRisk); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d high-risk path(s): %s", n, strings.Join(f.Paths.HighRisk, ", ")))
	}
	if n := len(f.Paths.MediumRisk); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d medium-risk path(s): %s", n, strings.Join(f.Paths.MediumRisk, ", ")))
	}

	f.FileCount = c.analyzeFileCount(len(in.Paths))
	if f.FileCount.Score > 0 {
		reasons = append(reasons, fmt.Sprintf("large change set: %d files", f.FileCount.Count))
	}

	f.Content = c.analyzeContent(in.Description+"\n"+in.Summary, diffLines)
	if len(f.Content.Keywords) > 0 {
		reasons = append(reasons, "critical keywords: "+strings.Join(f.Content.Keywords, ", "))
	}
	if diffLines > c.cfg.DiffLines.Medium {
		reasons = append(reasons, fmt.Sprintf("diff size: %d changed lines", diffLines))
	}

	f.Scope = c.analyzeScope(in.Scope)
	if len(f.Scope.Tags) > 0 {
		reasons = append(reasons, "high-risk scope: "+strings.Join(f.Scope.Tags, ", "))
	}

	f.ChangeType = c.analyzeType(in.Type)
	reasons = append(reasons, fmt.Sprintf("change type %s (+%d)", f.ChangeType.Type, f.ChangeType.Score))

	if in.RecentRegressions > 0 {
		f.History = HistoryFactor{Score: c.cfg.Weights.RecentRegression, RecentRegressions: in.RecentRegressions}
		reasons = append(reasons, fmt.Sprintf("%d recent regression(s) on this KPI", in.RecentRegressions))
	}

	score := f.Paths.Score + f.FileCount.Score + f.Content.Score + f.Scope.Score + f.ChangeType.Score + f.History.Score

	return Assessment{
		Level:   c.level(score),
		Score:   score,
		Reasons: reasons,
		Factors: f,
	}
}

// Failed builds the fail-safe assessment for err.
func Failed(err error) Assessment {
	return Assessment{
		Level:   LevelHigh,
		Score:   FailedScore,
		Reasons: []string{"classification failed: " + err.Error()},
		Failed:  true,
	}
}

func validateInput(in Input) error {
	if len(in.Paths) == 0 {
		return fmt.Errorf("proposal has no files")
	}
	for i, p := range in.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("file %d has an empty path", i)
		}
	}
	if in.DiffLines < 0 {
		return fmt.Errorf("negative diff line count %d", in.DiffLines)
	}
	return nil
}

func (c *Classifier) analyzePaths(paths []string) PathFactor {
	var f PathFactor
	for _, p := range paths {
		switch {
		case matchAny(c.high, p):
			f.Score += c.cfg.Weights.HighRiskPath
			f.HighRisk = append(f.HighRisk, p)
		case matchAny(c.medium, p):
			f.Score += c.cfg.Weights.MediumRiskPath
			f.MediumRisk = append(f.MediumRisk, p)
		}
	}
	return f
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (c *Classifier) analyzeFileCount(n int) CountFactor {
	f := CountFactor{Count: n}
	switch {
	case n >= c.cfg.FileCount.High:
		f.Score = c.cfg.Weights.HighFileCount
	case n >= c.cfg.FileCount.Medium:
		f.Score = c.cfg.Weights.MediumFileCount
	}
	return f
}

func (c *Classifier) analyzeContent(text string, diffLines int) ContentFactor {
	f := ContentFactor{DiffLines: diffLines}
	text = strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(text, kw) {
			f.Keywords = append(f.Keywords, kw)
			f.Score += c.cfg.Weights.Keyword
		}
	}
	switch {
	case diffLines > c.cfg.DiffLines.High:
		f.Score += c.cfg.Weights.LargeDiff
	case diffLines > c.cfg.DiffLines.Medium:
		f.Score += c.cfg.Weights.MediumDiff
	}
	return f
}

func (c *Classifier) analyzeScope(scope []string) ScopeFactor {
	var f ScopeFactor
	seen := map[string]bool{}
	for _, s := range scope {
		s = strings.ToLower(s)
		if c.highScopes[s] && !seen[s] {
			seen[s] = true
			f.Tags = append(f.Tags, s)
			f.Score += c.cfg.Weights.Scope
		}
	}
	sort.Strings(f.Tags)
	return f
}

func (c *Classifier) analyzeType(t string) TypeFactor {
	t = strings.ToLower(strings.TrimSpace(t))
	if w, ok := c.cfg.TypeWeights[t]; ok {
		return TypeFactor{Type: t, Score: w}
	}
	if t == "" {
		t = "unknown"
	}
	return TypeFactor{Type: t, Score: c.cfg.UnknownTypeWeight}
}

func (c *Classifier) level(score int) Level {
	switch {
	case score >= c.cfg.Levels.High:
		return LevelHigh
	case score >= c.cfg.Levels.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// CheckAutoApplyEligibility reports whether a can be applied without
// manual approval. High risk is never eligible.
func CheckAutoApplyEligibility(a Assessment) Eligibility {
	if a.Level == LevelHigh {
		reason := fmt.Sprintf("risk score %d is high; manual approval required", a.Score)
		if a.Failed {
			reason = "risk could not be classified; manual approval required"
		}
		return Eligibility{Eligible: false, ReasonCode: ReasonHighRisk, Reason: reason}
	}
	return Eligibility{Eligible: true}
}
