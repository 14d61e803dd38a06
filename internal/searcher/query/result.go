package query

// Result is the caller-facing search response.
type Result struct {
	Meta Meta  `json:"meta"`
	Data []Hit `json:"data"`
}

type Meta struct {
	Took    int64 `json:"took"`
	Total   int64 `json:"total"`
	Results int   `json:"results"`
}

type Hit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

// NewResult fills Meta.Results from hits and guarantees a non-nil Data slice.
func NewResult(took, total int64, hits []Hit) *Result {
	if hits == nil {
		hits = []Hit{}
	}
	return &Result{
		Meta: Meta{Took: took, Total: total, Results: len(hits)},
		Data: hits,
	}
}
