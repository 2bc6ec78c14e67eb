package models

// RuleAction is what a matching filter rule does with a segment.
type RuleAction string

const (
	RuleActionRemove RuleAction = "remove"
	RuleActionKeep   RuleAction = "keep"
	RuleActionFlag   RuleAction = "flag"
)

// FilterRule is one ordered regex rule of the filter engine. Rules are
// embedded in a node's config and evaluated read-only in declaration order.
type FilterRule struct {
	ID          string     `json:"id"      validate:"required"`
	Name        string     `json:"name"    validate:"required"`
	Pattern     string     `json:"pattern"`
	Flags       string     `json:"flags,omitempty"`
	Action      RuleAction `json:"action"  validate:"required,oneof=remove keep flag"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
}
