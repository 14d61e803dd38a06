// Package query builds the structured boolean query sent to the index engine.
// The tree is engine-neutral Go values; MarshalJSON renders the Elasticsearch
// query DSL and the bleve delegator walks the same tree with a type switch.
package query

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Index field names. The localized subfields exist only in the
// Elasticsearch mapping; other engines fold them onto the base field.
const (
	FieldPath          = "path"
	FieldPathJa        = "path.ja"
	FieldPathEn        = "path.en"
	FieldPathRaw       = "path.raw"
	FieldBody          = "body"
	FieldBodyJa        = "body.ja"
	FieldBodyEn        = "body.en"
	FieldTagNames      = "tag_names"
	FieldBookmarkCount = "bookmark_count"
	FieldGrant         = "grant"
	FieldGrantedUsers  = "granted_users"
	FieldGrantedGroup  = "granted_group"
	FieldUpdatedAt     = "updated_at"
)

type Query interface {
	json.Marshaler
	// Kind is the DSL clause name, e.g. "bool" or "multi_match".
	Kind() string
}

type Bool struct {
	Must    []Query
	MustNot []Query
	Should  []Query
	Filter  []Query
}

func (b *Bool) Kind() string { return "bool" }

// IsEmpty reports whether no clause has been added.
func (b *Bool) IsEmpty() bool {
	return len(b.Must) == 0 && len(b.MustNot) == 0 && len(b.Should) == 0 && len(b.Filter) == 0
}

func (b *Bool) MarshalJSON() ([]byte, error) {
	body := map[string][]Query{}
	if len(b.Must) > 0 {
		body["must"] = b.Must
	}
	if len(b.MustNot) > 0 {
		body["must_not"] = b.MustNot
	}
	if len(b.Should) > 0 {
		body["should"] = b.Should
	}
	if len(b.Filter) > 0 {
		body["filter"] = b.Filter
	}
	return json.Marshal(map[string]any{"bool": body})
}

const (
	MultiMatchMostFields = "most_fields"
	MultiMatchPhrase     = "phrase"
)

// MultiMatch runs Query against several fields. A field may carry a "^n"
// boost suffix.
type MultiMatch struct {
	Query    string
	Type     string
	Fields   []string
	Operator string
}

func (m *MultiMatch) Kind() string { return "multi_match" }

func (m *MultiMatch) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"query":  m.Query,
		"fields": m.Fields,
	}
	if m.Type != "" {
		body["type"] = m.Type
	}
	if m.Operator != "" {
		body["operator"] = m.Operator
	}
	return json.Marshal(map[string]any{"multi_match": body})
}

// PhraseText returns the phrase with one pair of surrounding double quotes
// removed. Phrases keep their quotes through parsing; engines that do not
// understand quoted phrase input call this before matching.
func PhraseText(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// SplitBoost separates "path.ja^2" into ("path.ja", 2). Fields without a
// suffix have boost 1.
func SplitBoost(field string) (string, float64) {
	name, boost, ok := strings.Cut(field, "^")
	if !ok {
		return field, 1
	}
	f, err := strconv.ParseFloat(boost, 64)
	if err != nil || f <= 0 {
		return name, 1
	}
	return name, f
}

type Prefix struct {
	Field string
	Value string
}

func (p *Prefix) Kind() string { return "prefix" }

func (p *Prefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"prefix": map[string]string{p.Field: p.Value}})
}

type Term struct {
	Field string
	Value any
}

func (t *Term) Kind() string { return "term" }

func (t *Term) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"term": map[string]any{t.Field: t.Value}})
}

type Terms struct {
	Field  string
	Values []string
}

func (t *Terms) Kind() string { return "terms" }

func (t *Terms) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"terms": map[string][]string{t.Field: t.Values}})
}

// Regexp matches the whole field value; the pattern is implicitly anchored.
type Regexp struct {
	Field   string
	Pattern string
}

func (r *Regexp) Kind() string { return "regexp" }

func (r *Regexp) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"regexp": map[string]string{r.Field: r.Pattern}})
}

type MatchAll struct{}

func (MatchAll) Kind() string { return "match_all" }

func (MatchAll) MarshalJSON() ([]byte, error) {
	return []byte(`{"match_all":{}}`), nil
}

type FieldValueFactor struct {
	Field    string  `json:"field"`
	Modifier string  `json:"modifier"`
	Factor   float64 `json:"factor"`
	Missing  float64 `json:"missing"`
}

// FunctionScore adds (BoostMode "sum") a field-derived value to the score of
// the wrapped query.
type FunctionScore struct {
	Query            Query
	FieldValueFactor FieldValueFactor
	BoostMode        string
}

func (f *FunctionScore) Kind() string { return "function_score" }

func (f *FunctionScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"function_score": map[string]any{
			"query":              f.Query,
			"field_value_factor": f.FieldValueFactor,
			"boost_mode":         f.BoostMode,
		},
	})
}
