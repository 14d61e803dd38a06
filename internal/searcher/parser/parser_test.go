package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MixedClauses(t *testing.T) {
	pq := Parse(`"hello world" -foo tag:urgent -prefix:/archive`)

	assert.Equal(t, []string{`"hello world"`}, pq.Phrase)
	assert.Equal(t, []string{"foo"}, pq.NotMatch)
	assert.Equal(t, []string{"urgent"}, pq.Tag)
	assert.Equal(t, []string{"/archive"}, pq.NotPrefix)
	assert.Empty(t, pq.Match)
	assert.Empty(t, pq.NotPhrase)
	assert.Empty(t, pq.Prefix)
	assert.Empty(t, pq.NotTag)
}

func TestParse_EveryList(t *testing.T) {
	pq := Parse(`alpha -beta "gamma delta" -"epsilon zeta" prefix:/a -prefix:/b tag:t1 -tag:t2 omega`)

	assert.Equal(t, []string{"alpha", "omega"}, pq.Match)
	assert.Equal(t, []string{"beta"}, pq.NotMatch)
	assert.Equal(t, []string{`"gamma delta"`}, pq.Phrase)
	assert.Equal(t, []string{`"epsilon zeta"`}, pq.NotPhrase)
	assert.Equal(t, []string{"/a"}, pq.Prefix)
	assert.Equal(t, []string{"/b"}, pq.NotPrefix)
	assert.Equal(t, []string{"t1"}, pq.Tag)
	assert.Equal(t, []string{"t2"}, pq.NotTag)
	assert.Equal(t, 9, pq.Tokens())
}

func TestParse_CollapsesWhitespace(t *testing.T) {
	pq := Parse("  foo \t\n  bar   \"a   b\"  ")

	assert.Equal(t, []string{"foo", "bar"}, pq.Match)
	assert.Equal(t, []string{`"a b"`}, pq.Phrase)
}

func TestParse_EmptyListsNeverNil(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		pq := Parse(q)
		require.NotNil(t, pq.Match)
		require.NotNil(t, pq.NotMatch)
		require.NotNil(t, pq.Phrase)
		require.NotNil(t, pq.NotPhrase)
		require.NotNil(t, pq.Prefix)
		require.NotNil(t, pq.NotPrefix)
		require.NotNil(t, pq.Tag)
		require.NotNil(t, pq.NotTag)
		assert.True(t, pq.IsEmpty())
		assert.Equal(t, q, pq.RawQuery)
	}
}

func TestParse_DegenerateTokens(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  func(*ParsedQuery) []string
		value []string
	}{
		{"lone dash is a match term", "-", func(p *ParsedQuery) []string { return p.Match }, []string{"-"}},
		{"empty prefix is a match term", "prefix:", func(p *ParsedQuery) []string { return p.Match }, []string{"prefix:"}},
		{"negated empty tag is a not-match term", "-tag:", func(p *ParsedQuery) []string { return p.NotMatch }, []string{"tag:"}},
		{"double dash", "--foo", func(p *ParsedQuery) []string { return p.NotMatch }, []string{"-foo"}},
		{"unbalanced quote", `"foo bar`, func(p *ParsedQuery) []string { return p.Match }, []string{`"foo`, "bar"}},
		{"empty quotes", `""`, func(p *ParsedQuery) []string { return p.Match }, []string{`""`}},
		{"nested prefix", "prefix:tag:x", func(p *ParsedQuery) []string { return p.Prefix }, []string{"tag:x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq := Parse(tt.query)
			assert.Equal(t, tt.value, tt.want(pq))
			assert.Equal(t, len(tt.value), pq.Tokens())
		})
	}
}

func TestParse_EveryTokenClassifiedOnce(t *testing.T) {
	queries := []string{
		`a b c`,
		`-a -b "c d" -"e f" g`,
		`tag:x tag:y -tag:z prefix:/p`,
		`"unterminated -x`,
		`- -- --- ----`,
		`"a" "b" "c"`,
	}
	for _, q := range queries {
		pq := Parse(q)
		phrases := phrasePattern.FindAllString(q, -1)
		rest := phrasePattern.ReplaceAllString(q, "")
		words := strings.Fields(rest)
		assert.Equal(t, len(phrases)+len(words), pq.Tokens(), "query %q", q)
	}
}

func TestParsedQuery_CacheKey(t *testing.T) {
	a := Parse("foo  tag:x bar")
	b := Parse("foo bar tag:x")
	c := Parse("bar foo tag:x")

	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.Equal(t, "", Parse("").CacheKey())
}

func TestParsedQuery_HasKeyword(t *testing.T) {
	assert.False(t, Parse("tag:x prefix:/a").HasKeyword())
	assert.True(t, Parse("tag:x -foo").HasKeyword())
}
