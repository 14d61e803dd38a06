// Package document holds the page model shared by the document store and the
// index: the canonical Page read from the store, the Grant visibility mode,
// and the denormalised IndexedDocument written to the search index.
package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Grant is the visibility mode of a page. The numeric values are what the
// index stores and what visibility filters compare against.
type Grant int

const (
	GrantPublic     Grant = 1
	GrantRestricted Grant = 2
	GrantSpecified  Grant = 3
	GrantOwner      Grant = 4
	GrantUserGroup  Grant = 5
)

func (g Grant) Valid() bool {
	return g >= GrantPublic && g <= GrantUserGroup
}

func (g Grant) String() string {
	switch g {
	case GrantPublic:
		return "PUBLIC"
	case GrantRestricted:
		return "RESTRICTED"
	case GrantSpecified:
		return "SPECIFIED"
	case GrantOwner:
		return "OWNER"
	case GrantUserGroup:
		return "USER_GROUP"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(g)) + ")"
	}
}

// ParseGrant accepts either the symbolic name or the numeric value.
func ParseGrant(s string) (Grant, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLIC":
		return GrantPublic, nil
	case "RESTRICTED":
		return GrantRestricted, nil
	case "SPECIFIED":
		return GrantSpecified, nil
	case "OWNER":
		return GrantOwner, nil
	case "USER_GROUP":
		return GrantUserGroup, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Grant(n).Valid() {
		return 0, fmt.Errorf("unknown grant %q", s)
	}
	return Grant(n), nil
}

// Page is the canonical page as read from the document store, with author
// and current revision already resolved. A nil Revision or empty Author means
// the relation could not be resolved.
type Page struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Author       string    `json:"author,omitempty"`
	Revision     *Revision `json:"revision,omitempty"`
	CommentCount int       `json:"comment_count"`
	LikerCount   int       `json:"liker_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Grant        Grant     `json:"grant"`
	GrantedUsers []string  `json:"granted_users,omitempty"`
	GrantedGroup string    `json:"granted_group,omitempty"`
	RedirectTo   string    `json:"redirect_to,omitempty"`
}

type Revision struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// ShouldIndex reports whether p may appear in the index at all. Pages without
// a resolved author or revision, redirect stubs, and pages whose grant is not
// a known mode are never indexed.
func ShouldIndex(p *Page) bool {
	if p == nil {
		return false
	}
	return p.Author != "" && p.Revision != nil && p.RedirectTo == "" && p.Grant.Valid()
}

// IndexedDocument is the projection written to the index. It is rebuilt in
// full on every sync; the index never receives partial updates.
type IndexedDocument struct {
	ID            string    `json:"-"`
	Path          string    `json:"path"`
	Body          string    `json:"body"`
	Username      string    `json:"username"`
	CommentCount  int       `json:"comment_count"`
	BookmarkCount int       `json:"bookmark_count"`
	LikeCount     int       `json:"like_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	TagNames      []string  `json:"tag_names"`
	Grant         Grant     `json:"grant"`
	GrantedUsers  []string  `json:"granted_users"`
	GrantedGroup  *string   `json:"granted_group"`
}

// Project builds the indexed form of an eligible page. The caller checks
// ShouldIndex first; Project panics on a nil revision.
func Project(p *Page, bookmarkCount int, tagNames []string) IndexedDocument {
	if tagNames == nil {
		tagNames = []string{}
	}
	doc := IndexedDocument{
		ID:            p.ID,
		Path:          p.Path,
		Body:          p.Revision.Body,
		Username:      p.Author,
		CommentCount:  p.CommentCount,
		BookmarkCount: bookmarkCount,
		LikeCount:     p.LikerCount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		TagNames:      tagNames,
		Grant:         p.Grant,
	}
	if len(p.GrantedUsers) > 0 {
		doc.GrantedUsers = append([]string(nil), p.GrantedUsers...)
	}
	if p.GrantedGroup != "" {
		g := p.GrantedGroup
		doc.GrantedGroup = &g
	}
	return doc
}
