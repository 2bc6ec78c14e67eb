package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weirlabs/weir/pkg/models"
)

func runFilter(t *testing.T, config map[string]any, segments ...string) *models.StepExecutionResult {
	t.Helper()

	input := make([]models.Segment, 0, len(segments))
	for _, content := range segments {
		input = append(input, models.Segment{Content: content})
	}

	step := &Step{}

	result, err := step.Execute(context.Background(), input, config, models.StepExecutionContext{ExecutionID: "exec-test"})
	require.NoError(t, err)
	require.NotNil(t, result)

	return result
}

func htmlRemoveConfig() map[string]any {
	return map[string]any{
		"rules": []map[string]any{
			{
				"id":      "r1",
				"name":    "rm-html",
				"pattern": "<[^>]*>",
				"flags":   "g",
				"action":  "remove",
				"enabled": true,
			},
		},
		"default_action":     "keep",
		"min_content_length": 0,
	}
}

func TestExecute_RemoveRuleMatches(t *testing.T) {
	result := runFilter(t, htmlRemoveConfig(), "<p>hi</p>")

	assert.True(t, result.Success)
	assert.Empty(t, result.OutputSegments)
	assert.Equal(t, 1, result.Metrics.Filtered)
	assert.Equal(t, 1, result.Metrics.RuleMatches["r1"])
}

func TestExecute_DefaultActionKeepsUnmatched(t *testing.T) {
	result := runFilter(t, htmlRemoveConfig(), "hello world")

	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, "hello world", result.OutputSegments[0].Content)
	assert.Equal(t, 0, result.Metrics.RuleMatches["r1"])
}

func TestExecute_LengthGatePrecedesRules(t *testing.T) {
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "keep-all", "name": "keep-all", "pattern": ".*", "action": "keep", "enabled": true},
		},
		"default_action":     "keep",
		"min_content_length": 20,
	}

	// Even an all-keep rule set cannot rescue a short segment.
	result := runFilter(t, config, "Short.")

	assert.Empty(t, result.OutputSegments)
	assert.Equal(t, 1, result.Metrics.Filtered)
	assert.Equal(t, 0, result.Metrics.RuleMatches["keep-all"])
}

func TestExecute_MaxLengthGate(t *testing.T) {
	config := map[string]any{
		"default_action":     "keep",
		"max_content_length": 5,
	}

	result := runFilter(t, config, "short", "this one is far too long")

	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, "short", result.OutputSegments[0].Content)
}

func TestExecute_EmptySegmentsDroppedUnlessPreserved(t *testing.T) {
	config := map[string]any{"default_action": "keep"}

	result := runFilter(t, config, "", "content")
	require.Len(t, result.OutputSegments, 1)

	config["preserve_empty_segments"] = true

	result = runFilter(t, config, "", "content")
	require.Len(t, result.OutputSegments, 2)
}

func TestExecute_FirstMatchWins(t *testing.T) {
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "first", "name": "keep-hello", "pattern": "hello", "action": "keep", "enabled": true},
			{"id": "second", "name": "rm-hello", "pattern": "hello", "action": "remove", "enabled": true},
		},
		"default_action": "remove",
	}

	result := runFilter(t, config, "hello world")

	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, 1, result.Metrics.RuleMatches["first"])
	assert.Equal(t, 0, result.Metrics.RuleMatches["second"])
}

func TestExecute_RuleOrderDeterminism(t *testing.T) {
	// Permuting non-matching rules around the matching one does not change
	// the outcome.
	matching := map[string]any{"id": "m", "name": "m", "pattern": "target", "action": "flag", "enabled": true}
	nonMatching1 := map[string]any{"id": "n1", "name": "n1", "pattern": "zzz", "action": "remove", "enabled": true}
	nonMatching2 := map[string]any{"id": "n2", "name": "n2", "pattern": "yyy", "action": "remove", "enabled": true}

	orderings := [][]map[string]any{
		{nonMatching1, matching, nonMatching2},
		{nonMatching2, nonMatching1, matching},
		{matching, nonMatching1, nonMatching2},
	}

	for _, rules := range orderings {
		config := map[string]any{"rules": rules, "default_action": "remove"}

		result := runFilter(t, config, "the target segment")

		require.Len(t, result.OutputSegments, 1)
		assert.True(t, result.OutputSegments[0].Flagged())
		assert.Equal(t, 1, result.Metrics.RuleMatches["m"])
	}
}

func TestExecute_DisabledRulesAreSkipped(t *testing.T) {
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "off", "name": "off", "pattern": "hello", "action": "remove", "enabled": false},
		},
		"default_action": "keep",
	}

	result := runFilter(t, config, "hello world")

	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, 0, result.Metrics.RuleMatches["off"])
}

func TestExecute_FlagAttachesMetadata(t *testing.T) {
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "f1", "name": "suspicious", "pattern": "lorem", "action": "flag", "enabled": true},
		},
		"default_action": "keep",
	}

	result := runFilter(t, config, "lorem ipsum")

	require.Len(t, result.OutputSegments, 1)

	flagged := result.OutputSegments[0]
	assert.True(t, flagged.Flagged())
	assert.Equal(t, "suspicious", flagged.Metadata[models.SegmentMetaFlagReason])
}

func TestExecute_CaseSensitivity(t *testing.T) {
	rules := []map[string]any{
		{"id": "r", "name": "rm-spam", "pattern": "SPAM", "action": "remove", "enabled": true},
	}

	insensitive := map[string]any{"rules": rules, "default_action": "keep", "case_sensitive": false}
	result := runFilter(t, insensitive, "this is spam")
	assert.Empty(t, result.OutputSegments)

	sensitive := map[string]any{"rules": rules, "default_action": "keep", "case_sensitive": true}
	result = runFilter(t, sensitive, "this is spam")
	assert.Len(t, result.OutputSegments, 1)
}

func TestExecute_WholeWord(t *testing.T) {
	rules := []map[string]any{
		{"id": "r", "name": "rm-cat", "pattern": "cat", "action": "remove", "enabled": true},
	}

	wholeWord := map[string]any{"rules": rules, "default_action": "keep", "whole_word": true}

	result := runFilter(t, wholeWord, "the cat sat", "concatenate strings")
	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, "concatenate strings", result.OutputSegments[0].Content)
}

func TestExecute_EmptyRulesDefaultKeepIsNoOp(t *testing.T) {
	config := map[string]any{"rules": []map[string]any{}, "default_action": "keep"}

	result := runFilter(t, config, "one", "two", "three")

	assert.Len(t, result.OutputSegments, 3)
	assert.Equal(t, float64(0), result.Metrics.FilteringRate)
}

func TestExecute_FilteringRateInvariant(t *testing.T) {
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "r", "name": "rm-odd", "pattern": "odd", "action": "remove", "enabled": true},
		},
		"default_action": "keep",
	}

	result := runFilter(t, config, "odd one", "even one", "odd two", "even two")
	assert.InDelta(t, 0.5, result.Metrics.FilteringRate, 1e-9)
	assert.Equal(t, result.Metrics.FilteringRate, float64(result.Metrics.Filtered)/float64(result.Metrics.TotalProcessed))

	// Zero input yields rate 0, not NaN.
	result = runFilter(t, config)
	assert.Equal(t, float64(0), result.Metrics.FilteringRate)
	assert.Equal(t, 0, result.Metrics.TotalProcessed)
}

func TestExecute_InvalidRuntimePatternSkipsSingleRule(t *testing.T) {
	// A bad pattern that slipped past validation is skipped; the other rule
	// still applies.
	config := map[string]any{
		"rules": []map[string]any{
			{"id": "bad", "name": "bad", "pattern": "([unclosed", "action": "remove", "enabled": true},
			{"id": "good", "name": "good", "pattern": "drop", "action": "remove", "enabled": true},
		},
		"default_action": "keep",
	}

	result := runFilter(t, config, "drop this", "keep this")

	require.Len(t, result.OutputSegments, 1)
	assert.Equal(t, "keep this", result.OutputSegments[0].Content)
	assert.Equal(t, 1, result.Metrics.RuleMatches["good"])
}

func TestValidate_RejectsEmptyAndInvalidPatterns(t *testing.T) {
	step := &Step{}

	problems := step.Validate(map[string]any{
		"rules": []map[string]any{
			{"id": "e", "name": "empty", "pattern": "", "action": "remove", "enabled": true},
			{"id": "b", "name": "broken", "pattern": "([", "action": "remove", "enabled": true},
		},
		"default_action": "keep",
	})

	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "pattern must not be empty")
	assert.Contains(t, problems[1], "invalid pattern")
}

func TestValidate_RejectsBadActionsAndLengths(t *testing.T) {
	step := &Step{}

	problems := step.Validate(map[string]any{
		"rules": []map[string]any{
			{"id": "r", "name": "r", "pattern": "x", "action": "explode", "enabled": true},
		},
		"default_action":     "flag",
		"min_content_length": 50,
		"max_content_length": 10,
	})

	assert.Len(t, problems, 3)
}

func TestValidate_RejectsDuplicateRuleIDs(t *testing.T) {
	step := &Step{}

	problems := step.Validate(map[string]any{
		"rules": []map[string]any{
			{"id": "dup", "name": "a", "pattern": "x", "action": "keep", "enabled": true},
			{"id": "dup", "name": "b", "pattern": "y", "action": "keep", "enabled": true},
		},
		"default_action": "keep",
	})

	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "duplicate rule id")
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	step := &Step{}

	assert.Empty(t, step.Validate(htmlRemoveConfig()))
}

func TestFormatOutput(t *testing.T) {
	step := &Step{}

	result := runFilter(t, htmlRemoveConfig(), "hello", "<b>x</b>")

	formatted, ok := step.FormatOutput(result, nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, formatted["kept"])
	assert.Equal(t, 1, formatted["filtered"])
	assert.Equal(t, []string{"hello"}, formatted["preview"])
}

func TestMetadata(t *testing.T) {
	step := &Step{}

	metadata := step.Metadata()
	assert.Equal(t, StepType, metadata.Type)
	assert.NotNil(t, metadata.ConfigSchema)
}
