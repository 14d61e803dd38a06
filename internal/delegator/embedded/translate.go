package embedded

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/samber/lo"
)

// translate walks the engine-neutral query tree and builds the bleve
// equivalent. Filter clauses become required clauses, so unlike
// Elasticsearch they also contribute to the score.
func translate(q query.Query) (bquery.Query, error) {
	switch q := q.(type) {
	case *query.Bool:
		return translateBool(q)
	case *query.MultiMatch:
		return translateMultiMatch(q)
	case *query.Prefix:
		p := bleve.NewPrefixQuery(q.Value)
		p.SetField(fieldFor(q.Field))
		return p, nil
	case *query.Term:
		return termQuery(fieldFor(q.Field), q.Value), nil
	case *query.Terms:
		if len(q.Values) == 0 {
			return bleve.NewMatchNoneQuery(), nil
		}
		field := fieldFor(q.Field)
		return bleve.NewDisjunctionQuery(lo.Map(q.Values, func(v string, _ int) bquery.Query {
			return termQuery(field, v)
		})...), nil
	case *query.Regexp:
		r := bleve.NewRegexpQuery(q.Pattern)
		r.SetField(fieldFor(q.Field))
		return r, nil
	case query.MatchAll, *query.MatchAll:
		return bleve.NewMatchAllQuery(), nil
	case *query.FunctionScore:
		return nil, fmt.Errorf("nested function_score is not supported")
	case nil:
		return bleve.NewMatchAllQuery(), nil
	default:
		return nil, fmt.Errorf("unsupported query clause %q", q.Kind())
	}
}

func translateAll(qs []query.Query) ([]bquery.Query, error) {
	out := make([]bquery.Query, 0, len(qs))
	for _, q := range qs {
		t, err := translate(q)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// translateBool keeps the Elasticsearch reading of bool: a bool with only
// should clauses needs one of them to match, and a bool with only must_not
// clauses matches everything else.
func translateBool(b *query.Bool) (bquery.Query, error) {
	if b.IsEmpty() {
		return bleve.NewMatchAllQuery(), nil
	}
	must, err := translateAll(append(append([]query.Query(nil), b.Must...), b.Filter...))
	if err != nil {
		return nil, err
	}
	should, err := translateAll(b.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := translateAll(b.MustNot)
	if err != nil {
		return nil, err
	}

	out := bleve.NewBooleanQuery()
	switch {
	case len(should) > 0 && len(must) == 0:
		out.AddMust(bleve.NewDisjunctionQuery(should...))
	case len(should) > 0:
		out.AddShould(should...)
	}
	if len(must) > 0 {
		out.AddMust(must...)
	}
	if len(should) == 0 && len(must) == 0 {
		out.AddMust(bleve.NewMatchAllQuery())
	}
	if len(mustNot) > 0 {
		out.AddMustNot(mustNot...)
	}
	return out, nil
}

type boostedField struct {
	name  string
	boost float64
}

// collapseFields maps localized subfields onto the stored field and keeps
// the highest boost when several collapse onto one.
func collapseFields(fields []string) []boostedField {
	best := map[string]float64{}
	for _, f := range fields {
		name, boost := query.SplitBoost(f)
		name = fieldFor(name)
		if boost > best[name] {
			best[name] = boost
		}
	}
	out := make([]boostedField, 0, len(best))
	for name, boost := range best {
		out = append(out, boostedField{name: name, boost: boost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func translateMultiMatch(m *query.MultiMatch) (bquery.Query, error) {
	fields := collapseFields(m.Fields)
	if len(fields) == 0 {
		return nil, fmt.Errorf("multi_match without fields")
	}
	clauses := make([]bquery.Query, 0, len(fields))
	for _, f := range fields {
		if m.Type == query.MultiMatchPhrase {
			p := bleve.NewMatchPhraseQuery(query.PhraseText(m.Query))
			p.SetField(f.name)
			p.SetBoost(f.boost)
			clauses = append(clauses, p)
			continue
		}
		mq := bleve.NewMatchQuery(m.Query)
		mq.SetField(f.name)
		mq.SetBoost(f.boost)
		if m.Operator == "and" {
			mq.SetOperator(bquery.MatchQueryOperatorAnd)
		}
		clauses = append(clauses, mq)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return bleve.NewDisjunctionQuery(clauses...), nil
}

// termQuery matches an exact keyword, or for numbers an exact value.
func termQuery(field string, value any) bquery.Query {
	if n, ok := number(value); ok {
		incl := true
		q := bleve.NewNumericRangeInclusiveQuery(&n, &n, &incl, &incl)
		q.SetField(field)
		return q
	}
	t := bleve.NewTermQuery(fmt.Sprint(value))
	t.SetField(field)
	return t
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// fieldValue applies a field_value_factor to one document's value.
func fieldValue(f query.FieldValueFactor, value float64, present bool) float64 {
	if !present {
		value = f.Missing
	}
	factor := f.Factor
	if factor == 0 {
		factor = 1
	}
	v := factor * value
	switch f.Modifier {
	case "log1p":
		return math.Log10(1 + v)
	case "ln1p":
		return math.Log1p(v)
	case "log":
		if v <= 0 {
			return 0
		}
		return math.Log10(v)
	case "sqrt":
		return math.Sqrt(math.Max(v, 0))
	default:
		return v
	}
}

// sourceNumber reads a numeric field out of decoded _source JSON.
func sourceNumber(src map[string]any, field string) (float64, bool) {
	switch v := src[field].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
