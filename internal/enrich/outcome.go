package enrich

// Outcome is the result of one enrichment attempt. It is either a Success
// or a Failure; adapters report problems through it instead of returning
// errors.
type Outcome interface {
	outcome()
}

// Success carries the enriched content. Empty fields are left untouched
// when the result is written back.
type Success struct {
	Title           string                 `json:"title,omitempty"`
	ContentMarkdown string                 `json:"content_markdown"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Failure carries the reason enrichment could not produce content
type Failure struct {
	Reason string `json:"reason"`
}

func (Success) outcome() {}
func (Failure) outcome() {}
