package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/weirlabs/weir/pkg/models"
	"github.com/weirlabs/weir/pkg/protocol"
)

const StepType = "filter"

const previewSegments = 3

// Config is the filter step configuration, decoded from the node config map.
type Config struct {
	Rules                 []models.FilterRule `json:"rules"`
	DefaultAction         models.RuleAction   `json:"default_action"`
	CaseSensitive         bool                `json:"case_sensitive"`
	WholeWord             bool                `json:"whole_word"`
	MinContentLength      *int                `json:"min_content_length,omitempty"`
	MaxContentLength      *int                `json:"max_content_length,omitempty"`
	PreserveEmptySegments bool                `json:"preserve_empty_segments"`
}

// Step evaluates ordered regex rules against content segments. The first
// enabled rule whose pattern matches a segment decides its fate; segments no
// rule matches fall back to the default action. Length gates run before any
// rule and cannot be overridden by rules.
type Step struct{}

type compiledRule struct {
	rule models.FilterRule
	re   *regexp.Regexp
}

func (s *Step) Execute(_ context.Context, input []models.Segment, config map[string]any, execCtx models.StepExecutionContext) (*models.StepExecutionResult, error) {
	started := time.Now()

	cfg, err := parseConfig(config)
	if err != nil {
		return failedResult(fmt.Sprintf("invalid filter configuration: %v", err)), nil
	}

	compiled := compileRules(cfg, execCtx)

	ruleMatches := make(map[string]int, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		ruleMatches[rule.ID] = 0
	}

	kept := make([]models.Segment, 0, len(input))
	filtered := 0

	for _, segment := range input {
		outcome, matchedRule := s.evaluate(segment, cfg, compiled)

		if matchedRule != "" {
			ruleMatches[matchedRule]++
		}

		switch outcome.action {
		case segmentKept:
			kept = append(kept, segment)
		case segmentFlagged:
			flagged := segment.
				WithMetadata(models.SegmentMetaFlagged, true).
				WithMetadata(models.SegmentMetaFlagReason, outcome.flagReason)
			kept = append(kept, flagged)
		case segmentFiltered:
			filtered++
		}
	}

	duration := time.Since(started)
	metrics := models.ExecutionMetrics{
		StepType:       StepType,
		StepName:       "Rule-Based Filter",
		InputCount:     len(input),
		OutputCount:    len(kept),
		FilteredCount:  filtered,
		DurationMS:     duration.Milliseconds(),
		TotalProcessed: len(input),
		Kept:           len(kept),
		Filtered:       filtered,
		FilteringRate:  filteringRate(filtered, len(input)),
		RuleMatches:    ruleMatches,
	}

	if duration > 0 {
		metrics.Throughput = float64(len(input)) / duration.Seconds()
	}

	return &models.StepExecutionResult{
		Success:        true,
		OutputSegments: kept,
		Metrics:        metrics,
		Count:          len(kept),
		TotalCount:     len(input),
	}, nil
}

type segmentOutcome struct {
	action     segmentAction
	flagReason string
}

type segmentAction int

const (
	segmentKept segmentAction = iota
	segmentFiltered
	segmentFlagged
)

// evaluate decides one segment's fate. The returned rule id is empty when the
// decision came from a length gate or the default action.
func (s *Step) evaluate(segment models.Segment, cfg *Config, compiled []compiledRule) (segmentOutcome, string) {
	content := segment.Content
	length := len(content)

	// Length gates run before rules and cannot be rescued by them.
	if cfg.MinContentLength != nil && length < *cfg.MinContentLength {
		return segmentOutcome{action: segmentFiltered}, ""
	}

	if cfg.MaxContentLength != nil && length > *cfg.MaxContentLength {
		return segmentOutcome{action: segmentFiltered}, ""
	}

	if length == 0 && !cfg.PreserveEmptySegments {
		return segmentOutcome{action: segmentFiltered}, ""
	}

	matchable := content
	if !cfg.CaseSensitive {
		matchable = strings.ToLower(content)
	}

	// First match wins; later rules are never consulted.
	for _, cr := range compiled {
		if !cr.re.MatchString(matchable) {
			continue
		}

		switch cr.rule.Action {
		case models.RuleActionRemove:
			return segmentOutcome{action: segmentFiltered}, cr.rule.ID
		case models.RuleActionKeep:
			return segmentOutcome{action: segmentKept}, cr.rule.ID
		case models.RuleActionFlag:
			return segmentOutcome{action: segmentFlagged, flagReason: cr.rule.Name}, cr.rule.ID
		}
	}

	if cfg.DefaultAction == models.RuleActionRemove {
		return segmentOutcome{action: segmentFiltered}, ""
	}

	return segmentOutcome{action: segmentKept}, ""
}

// compileRules compiles enabled rules once per execution, preserving order.
// A pattern that slipped past validation is logged and skipped; it never
// aborts the whole segment set.
func compileRules(cfg *Config, execCtx models.StepExecutionContext) []compiledRule {
	compiled := make([]compiledRule, 0, len(cfg.Rules))

	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}

		re, err := compilePattern(rule, cfg)
		if err != nil {
			if execCtx.Logger != nil {
				execCtx.Logger.Warn("Skipping filter rule with invalid pattern",
					"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
			}

			continue
		}

		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}

	return compiled
}

// compilePattern translates a rule's pattern and flags into a Go regexp. The
// engine-level case sensitivity overrides the rule's own casing flag; the
// rule flags only contribute match-mode modifiers (multiline, dot-all).
func compilePattern(rule models.FilterRule, cfg *Config) (*regexp.Regexp, error) {
	pattern := rule.Pattern
	if !cfg.CaseSensitive {
		pattern = strings.ToLower(pattern)
	}

	if cfg.WholeWord && pattern != "" {
		pattern = `\b(?:` + pattern + `)\b`
	}

	var modifiers string

	if strings.ContainsRune(rule.Flags, 'm') {
		modifiers += "m"
	}

	if strings.ContainsRune(rule.Flags, 's') {
		modifiers += "s"
	}

	if cfg.CaseSensitive && strings.ContainsRune(rule.Flags, 'i') {
		modifiers += "i"
	}

	if modifiers != "" {
		pattern = "(?" + modifiers + ")" + pattern
	}

	return regexp.Compile(pattern)
}

func (s *Step) Metadata() protocol.StepMetadata {
	return protocol.StepMetadata{
		Type:         StepType,
		Name:         "Rule-Based Filter",
		Description:  "Evaluates ordered regex rules against content segments, producing keep/remove/flag decisions with per-rule metrics",
		Version:      "1.0.0",
		InputTypes:   []string{"segments"},
		OutputTypes:  []string{"segments"},
		ConfigSchema: s.ConfigSchema(),
		Categories:   []string{"filtering"},
	}
}

func (s *Step) FormatOutput(result *models.StepExecutionResult, _ []models.Segment) any {
	if result == nil {
		return nil
	}

	preview := make([]string, 0, previewSegments)

	for i, segment := range result.OutputSegments {
		if i >= previewSegments {
			break
		}

		content := segment.Content
		if len(content) > 120 {
			content = content[:120] + "..."
		}

		preview = append(preview, content)
	}

	return map[string]any{
		"kept":           result.Metrics.Kept,
		"filtered":       result.Metrics.Filtered,
		"filtering_rate": result.Metrics.FilteringRate,
		"rule_matches":   result.Metrics.RuleMatches,
		"preview":        preview,
	}
}

// Validate collects configuration problems. An invalid or empty regex
// pattern is a configuration error here, not a runtime one.
func (s *Step) Validate(config map[string]any) []string {
	cfg, err := parseConfig(config)
	if err != nil {
		return []string{err.Error()}
	}

	problems := make([]string, 0)

	switch cfg.DefaultAction {
	case models.RuleActionKeep, models.RuleActionRemove:
	default:
		problems = append(problems, fmt.Sprintf("default_action must be 'keep' or 'remove', got '%s'", cfg.DefaultAction))
	}

	if cfg.MinContentLength != nil && *cfg.MinContentLength < 0 {
		problems = append(problems, "min_content_length must not be negative")
	}

	if cfg.MaxContentLength != nil && *cfg.MaxContentLength < 0 {
		problems = append(problems, "max_content_length must not be negative")
	}

	if cfg.MinContentLength != nil && cfg.MaxContentLength != nil && *cfg.MinContentLength > *cfg.MaxContentLength {
		problems = append(problems, "min_content_length must not exceed max_content_length")
	}

	seenIDs := make(map[string]bool, len(cfg.Rules))

	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			problems = append(problems, fmt.Sprintf("rules[%d]: id is required", i))
		} else if seenIDs[rule.ID] {
			problems = append(problems, fmt.Sprintf("rules[%d]: duplicate rule id '%s'", i, rule.ID))
		}

		seenIDs[rule.ID] = true

		if rule.Pattern == "" {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): pattern must not be empty, it would match every segment", i, rule.Name))
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): invalid pattern: %v", i, rule.Name, err))
		}

		switch rule.Action {
		case models.RuleActionRemove, models.RuleActionKeep, models.RuleActionFlag:
		default:
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): action must be 'remove', 'keep' or 'flag', got '%s'", i, rule.Name, rule.Action))
		}
	}

	return problems
}

func (s *Step) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rules": map[string]any{
				"type":        "array",
				"description": "Ordered regex rules, evaluated first-match-wins",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"name":        map[string]any{"type": "string"},
						"pattern":     map[string]any{"type": "string"},
						"flags":       map[string]any{"type": "string"},
						"action":      map[string]any{"type": "string", "enum": []string{"remove", "keep", "flag"}},
						"description": map[string]any{"type": "string"},
						"enabled":     map[string]any{"type": "boolean"},
					},
					"required": []string{"id", "name", "action"},
				},
			},
			"default_action": map[string]any{
				"type":        "string",
				"enum":        []string{"keep", "remove"},
				"description": "Action applied when no rule matches",
			},
			"case_sensitive":          map[string]any{"type": "boolean"},
			"whole_word":              map[string]any{"type": "boolean"},
			"min_content_length":      map[string]any{"type": "integer", "minimum": 0},
			"max_content_length":      map[string]any{"type": "integer", "minimum": 0},
			"preserve_empty_segments": map[string]any{"type": "boolean"},
		},
	}
}

func parseConfig(config map[string]any) (*Config, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	cfg := &Config{DefaultAction: models.RuleActionKeep}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.DefaultAction == "" {
		cfg.DefaultAction = models.RuleActionKeep
	}

	return cfg, nil
}

func filteringRate(filtered, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(filtered) / float64(total)
}

func failedResult(message string) *models.StepExecutionResult {
	return &models.StepExecutionResult{
		Success: false,
		Error:   message,
		Metrics: models.ExecutionMetrics{StepType: StepType},
	}
}
