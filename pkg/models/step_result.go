package models

// ExecutionMetrics captures what a step did with its input. The filter engine
// additionally fills the rule-level fields.
type ExecutionMetrics struct {
	StepType      string  `json:"step_type,omitempty"`
	StepName      string  `json:"step_name,omitempty"`
	InputCount    int     `json:"input_count"`
	OutputCount   int     `json:"output_count"`
	FilteredCount int     `json:"filtered_count"`
	DurationMS    int64   `json:"duration_ms"`
	Throughput    float64 `json:"throughput,omitempty"` // Segments per second
	MemoryBytes   int64   `json:"memory_bytes,omitempty"`

	TotalProcessed int            `json:"total_processed,omitempty"`
	Kept           int            `json:"kept,omitempty"`
	Filtered       int            `json:"filtered,omitempty"`
	FilteringRate  float64        `json:"filtering_rate,omitempty"`
	RuleMatches    map[string]int `json:"rule_matches,omitempty"`
}

// StepExecutionResult is what a step returns. Expected failures come back as
// Success=false with Error set; only unexpected faults propagate as Go errors.
// The engine consumes the result to build a node snapshot and discards it
// after formatting.
type StepExecutionResult struct {
	Success        bool             `json:"success"`
	OutputSegments []Segment        `json:"output_segments,omitempty"`
	Metrics        ExecutionMetrics `json:"metrics"`
	Error          string           `json:"error,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	RollbackData   any              `json:"rollback_data,omitempty"`
	Duplicates     []Segment        `json:"duplicates,omitempty"`
	Count          int              `json:"count,omitempty"`
	TotalCount     int              `json:"total_count,omitempty"`
	DuplicateCount int              `json:"duplicate_count,omitempty"`
}
