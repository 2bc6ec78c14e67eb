package models

// Metadata keys attached to segments by the filter engine.
const (
	SegmentMetaFlagged    = "flagged"
	SegmentMetaFlagReason = "flag_reason"
)

// Segment is one content unit flowing through the pipeline. The engine never
// interprets Content; only steps do.
type Segment struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of the segment with the given key set. The
// original segment's metadata map is never mutated.
func (s Segment) WithMetadata(key string, value any) Segment {
	meta := make(map[string]any, len(s.Metadata)+1)

	for k, v := range s.Metadata {
		meta[k] = v
	}

	meta[key] = value
	s.Metadata = meta

	return s
}

// Flagged reports whether the segment was flagged by a filter rule.
func (s Segment) Flagged() bool {
	flagged, _ := s.Metadata[SegmentMetaFlagged].(bool)

	return flagged
}
