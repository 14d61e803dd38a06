package query

import (
	"encoding/json"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
)

const (
	DefaultLimit = 50
	userPrefix   = "/user/"
)

var (
	matchFields    = []string{FieldPathJa + "^2", FieldPathEn + "^2", FieldBodyJa, FieldBodyEn}
	notMatchFields = []string{FieldPathJa, FieldPathEn, FieldBodyJa, FieldBodyEn}
	phraseFields   = []string{FieldPathRaw + "^2", FieldBody}
	sourceFields   = []string{FieldPath, FieldBookmarkCount, FieldTagNames}
)

// PageType restricts results by path shape. The zero value and any unknown
// value apply no restriction.
type PageType string

const (
	TypeAll    PageType = ""
	TypePortal PageType = "portal"
	TypePublic PageType = "public"
	TypeUser   PageType = "user"
)

// Known reports whether t selects a path shape.
func (t PageType) Known() bool {
	switch t {
	case TypePortal, TypePublic, TypeUser:
		return true
	}
	return false
}

// Viewer identifies who is searching. The zero value is an anonymous viewer.
type Viewer struct {
	UserID   string
	GroupIDs []string
}

func (v Viewer) Anonymous() bool {
	return v.UserID == ""
}

// Options are the caller-controlled paging and type parameters.
type Options struct {
	Offset int
	Limit  int
	Type   PageType
}

// Policy carries the wiki's list policy flags.
type Policy struct {
	HideRestrictedByOwner bool
	HideRestrictedByGroup bool
}

type Sort struct {
	Field string
	Order string
}

func (s Sort) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{s.Field: map[string]string{"order": s.Order}})
}

// Request is a complete search request against Index (normally the alias).
type Request struct {
	Index  string
	From   int
	Size   int
	Sort   []Sort
	Source []string
	Query  Query
}

// MarshalJSON renders the request body; Index travels in the URL.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"from":    r.From,
		"size":    r.Size,
		"sort":    r.Sort,
		"_source": r.Source,
		"query":   r.Query,
	})
}

type Builder struct {
	index    string
	policy   Policy
	maxLimit int
}

// NewBuilder returns a Builder targeting index. maxLimit caps Options.Limit;
// zero means uncapped.
func NewBuilder(index string, policy Policy, maxLimit int) *Builder {
	return &Builder{index: index, policy: policy, maxLimit: maxLimit}
}

// Build assembles the full request: keyword criteria, type filter,
// visibility filter, paging, then the bookmark boost around everything.
func (b *Builder) Build(pq *parser.ParsedQuery, viewer Viewer, opts Options, totalUsers int64) *Request {
	root := &Bool{}
	AppendCriteria(root, pq)
	FilterByType(root, opts.Type)
	FilterByViewer(root, viewer, b.policy)

	from, size := b.window(opts)
	return &Request{
		Index:  b.index,
		From:   from,
		Size:   size,
		Sort:   []Sort{{Field: "_score", Order: "desc"}},
		Source: append([]string(nil), sourceFields...),
		Query:  WithBookmarkBoost(root, totalUsers),
	}
}

func (b *Builder) window(opts Options) (int, int) {
	from := opts.Offset
	if from < 0 {
		from = 0
	}
	size := opts.Limit
	if size <= 0 {
		size = DefaultLimit
	}
	if b.maxLimit > 0 && size > b.maxLimit {
		size = b.maxLimit
	}
	return from, size
}

// AppendCriteria adds the keyword clauses of pq to root.
func AppendCriteria(root *Bool, pq *parser.ParsedQuery) {
	if len(pq.Match) > 0 {
		root.Must = append(root.Must, &MultiMatch{
			Query:  strings.Join(pq.Match, " "),
			Type:   MultiMatchMostFields,
			Fields: clone(matchFields),
		})
	}
	if len(pq.NotMatch) > 0 {
		root.MustNot = append(root.MustNot, &MultiMatch{
			Query:    strings.Join(pq.NotMatch, " "),
			Fields:   clone(notMatchFields),
			Operator: "or",
		})
	}
	for _, phrase := range pq.Phrase {
		root.Must = append(root.Must, phraseClause(phrase))
	}
	for _, phrase := range pq.NotPhrase {
		root.MustNot = append(root.MustNot, phraseClause(phrase))
	}
	if len(pq.Prefix) > 0 {
		root.Filter = append(root.Filter, &Bool{Should: prefixClauses(pq.Prefix)})
	}
	if len(pq.NotPrefix) > 0 {
		root.Filter = append(root.Filter, &Bool{MustNot: prefixClauses(pq.NotPrefix)})
	}
	if len(pq.Tag) > 0 {
		root.Filter = append(root.Filter, &Bool{Must: tagClauses(pq.Tag)})
	}
	if len(pq.NotTag) > 0 {
		root.Filter = append(root.Filter, &Bool{MustNot: tagClauses(pq.NotTag)})
	}
}

// FilterByType restricts root by path shape. Portal pages end in "/";
// user pages live under /user/; public pages are everything else.
func FilterByType(root *Bool, t PageType) {
	switch t {
	case TypePortal:
		root.MustNot = append(root.MustNot, userPages())
		root.Filter = append(root.Filter, &Regexp{Field: FieldPathRaw, Pattern: ".*/"})
	case TypePublic:
		root.MustNot = append(root.MustNot, userPages())
		root.Filter = append(root.Filter, &Regexp{Field: FieldPathRaw, Pattern: ".*[^/]"})
	case TypeUser:
		root.Filter = append(root.Filter, userPages())
	}
}

// FilterByViewer appends the grant filter. A document passes when any branch
// holds. Anonymous viewers only ever see public pages, whatever the policy.
func FilterByViewer(root *Bool, viewer Viewer, policy Policy) {
	conditions := []Query{grantIs(document.GrantPublic)}
	if viewer.Anonymous() {
		root.Filter = append(root.Filter, &Bool{Should: conditions})
		return
	}

	conditions = append(conditions, grantedTo(document.GrantRestricted, viewer.UserID))

	if policy.HideRestrictedByOwner {
		conditions = append(conditions,
			grantedTo(document.GrantSpecified, viewer.UserID),
			grantedTo(document.GrantOwner, viewer.UserID),
		)
	} else {
		conditions = append(conditions, grantIs(document.GrantSpecified), grantIs(document.GrantOwner))
	}

	switch {
	case !policy.HideRestrictedByGroup:
		conditions = append(conditions, grantIs(document.GrantUserGroup))
	case len(viewer.GroupIDs) > 0:
		conditions = append(conditions, &Bool{Must: []Query{
			grantIs(document.GrantUserGroup),
			&Terms{Field: FieldGrantedGroup, Values: clone(viewer.GroupIDs)},
		}})
	}

	root.Filter = append(root.Filter, &Bool{Should: conditions})
}

// BoostFactor is 10000 divided by the user count, floored at one user.
func BoostFactor(totalUsers int64) float64 {
	if totalUsers < 1 {
		totalUsers = 1
	}
	return 10000 / float64(totalUsers)
}

// WithBookmarkBoost wraps q so that log10(1 + factor*bookmark_count) is added
// to its relevance score.
func WithBookmarkBoost(q Query, totalUsers int64) *FunctionScore {
	return &FunctionScore{
		Query: q,
		FieldValueFactor: FieldValueFactor{
			Field:    FieldBookmarkCount,
			Modifier: "log1p",
			Factor:   BoostFactor(totalUsers),
			Missing:  0,
		},
		BoostMode: "sum",
	}
}

func phraseClause(phrase string) *MultiMatch {
	return &MultiMatch{
		Query:  phrase,
		Type:   MultiMatchPhrase,
		Fields: clone(phraseFields),
	}
}

func prefixClauses(paths []string) []Query {
	out := make([]Query, 0, len(paths))
	for _, p := range paths {
		out = append(out, &Prefix{Field: FieldPathRaw, Value: p})
	}
	return out
}

func tagClauses(tags []string) []Query {
	out := make([]Query, 0, len(tags))
	for _, t := range tags {
		out = append(out, &Term{Field: FieldTagNames, Value: t})
	}
	return out
}

func userPages() *Prefix {
	return &Prefix{Field: FieldPathRaw, Value: userPrefix}
}

func grantIs(g document.Grant) *Term {
	return &Term{Field: FieldGrant, Value: int(g)}
}

func grantedTo(g document.Grant, userID string) *Bool {
	return &Bool{Must: []Query{
		grantIs(g),
		&Term{Field: FieldGrantedUsers, Value: userID},
	}}
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
