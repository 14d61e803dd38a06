// Package parser turns the wiki's compact search syntax into keyword clauses.
//
//	foo bar          match terms
//	-foo             not-match term
//	"foo bar"        phrase (quotes kept)
//	-"foo bar"       negated phrase (quotes kept, dash dropped)
//	prefix:/a/b      path prefix filter, -prefix: to exclude
//	tag:urgent       tag filter, -tag: to exclude
//
// Parsing never fails; anything unrecognised becomes a match term.
package parser

import (
	"regexp"
	"strings"
)

var (
	phrasePattern   = regexp.MustCompile(`-?"[^"]+"`)
	negativePattern = regexp.MustCompile(`^-(prefix:|tag:)?(.+)$`)
	positivePattern = regexp.MustCompile(`^(prefix:|tag:)?(.+)$`)
)

type ParsedQuery struct {
	Match     []string `json:"match"`
	NotMatch  []string `json:"not_match"`
	Phrase    []string `json:"phrase"`
	NotPhrase []string `json:"not_phrase"`
	Prefix    []string `json:"prefix"`
	NotPrefix []string `json:"not_prefix"`
	Tag       []string `json:"tag"`
	NotTag    []string `json:"not_tag"`
	RawQuery  string   `json:"raw_query"`
}

func newParsedQuery(raw string) *ParsedQuery {
	return &ParsedQuery{
		Match:     make([]string, 0),
		NotMatch:  make([]string, 0),
		Phrase:    make([]string, 0),
		NotPhrase: make([]string, 0),
		Prefix:    make([]string, 0),
		NotPrefix: make([]string, 0),
		Tag:       make([]string, 0),
		NotTag:    make([]string, 0),
		RawQuery:  raw,
	}
}

func Parse(query string) *ParsedQuery {
	pq := newParsedQuery(query)
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return pq
	}

	for _, phrase := range phrasePattern.FindAllString(normalized, -1) {
		if strings.HasPrefix(phrase, "-") {
			pq.NotPhrase = append(pq.NotPhrase, phrase[1:])
		} else {
			pq.Phrase = append(pq.Phrase, phrase)
		}
	}
	rest := phrasePattern.ReplaceAllString(normalized, "")

	for _, word := range strings.Split(rest, " ") {
		if word == "" {
			continue
		}
		if m := negativePattern.FindStringSubmatch(word); m != nil {
			switch m[1] {
			case "prefix:":
				pq.NotPrefix = append(pq.NotPrefix, m[2])
			case "tag:":
				pq.NotTag = append(pq.NotTag, m[2])
			default:
				pq.NotMatch = append(pq.NotMatch, m[2])
			}
			continue
		}
		// A lone "-" falls through to here and is a literal match term.
		// "prefix:" with nothing after it is likewise a plain term.
		m := positivePattern.FindStringSubmatch(word)
		switch {
		case m == nil:
			pq.Match = append(pq.Match, word)
		case m[1] == "prefix:":
			pq.Prefix = append(pq.Prefix, m[2])
		case m[1] == "tag:":
			pq.Tag = append(pq.Tag, m[2])
		default:
			pq.Match = append(pq.Match, m[2])
		}
	}
	return pq
}

// IsEmpty reports whether no clause was extracted.
func (pq *ParsedQuery) IsEmpty() bool {
	return len(pq.Match) == 0 && len(pq.NotMatch) == 0 &&
		len(pq.Phrase) == 0 && len(pq.NotPhrase) == 0 &&
		len(pq.Prefix) == 0 && len(pq.NotPrefix) == 0 &&
		len(pq.Tag) == 0 && len(pq.NotTag) == 0
}

// HasKeyword reports whether any positive or negative text clause exists.
// Filters alone (prefix/tag) do not count.
func (pq *ParsedQuery) HasKeyword() bool {
	return len(pq.Match) > 0 || len(pq.NotMatch) > 0 || len(pq.Phrase) > 0 || len(pq.NotPhrase) > 0
}

// CacheKey renders the clauses in a fixed order. Two queries that differ only
// in whitespace or clause interleaving share a key; order within a list is
// preserved because the match clause is sent as one joined string.
func (pq *ParsedQuery) CacheKey() string {
	var b strings.Builder
	lists := []struct {
		name  string
		items []string
	}{
		{"m", pq.Match}, {"nm", pq.NotMatch},
		{"p", pq.Phrase}, {"np", pq.NotPhrase},
		{"pre", pq.Prefix}, {"npre", pq.NotPrefix},
		{"t", pq.Tag}, {"nt", pq.NotTag},
	}
	for _, l := range lists {
		if len(l.items) == 0 {
			continue
		}
		b.WriteString(l.name)
		b.WriteByte('=')
		b.WriteString(strings.Join(l.items, "\x1f"))
		b.WriteByte('|')
	}
	return b.String()
}

// Tokens returns the total number of classified tokens.
func (pq *ParsedQuery) Tokens() int {
	return len(pq.Match) + len(pq.NotMatch) + len(pq.Phrase) + len(pq.NotPhrase) +
		len(pq.Prefix) + len(pq.NotPrefix) + len(pq.Tag) + len(pq.NotTag)
}
