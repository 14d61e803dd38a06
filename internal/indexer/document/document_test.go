package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eligiblePage() *Page {
	return &Page{
		ID:           "p1",
		Path:         "/team/notes",
		Author:       "alice",
		Revision:     &Revision{ID: "r1", Body: "hello"},
		CommentCount: 2,
		LikerCount:   3,
		CreatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:    time.Date(2024, 2, 2, 3, 4, 5, 0, time.UTC),
		Grant:        GrantRestricted,
		GrantedUsers: []string{"u1"},
	}
}

func TestShouldIndex(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Page)
		want   bool
	}{
		{"eligible", func(*Page) {}, true},
		{"no author", func(p *Page) { p.Author = "" }, false},
		{"no revision", func(p *Page) { p.Revision = nil }, false},
		{"redirect", func(p *Page) { p.RedirectTo = "/elsewhere" }, false},
		{"unknown grant", func(p *Page) { p.Grant = 0 }, false},
		{"grant out of range", func(p *Page) { p.Grant = 9 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := eligiblePage()
			tt.mutate(p)
			assert.Equal(t, tt.want, ShouldIndex(p))
		})
	}
	assert.False(t, ShouldIndex(nil))
}

func TestProject(t *testing.T) {
	p := eligiblePage()
	p.GrantedGroup = "g1"

	doc := Project(p, 7, []string{"a", "b"})

	assert.Equal(t, "p1", doc.ID)
	assert.Equal(t, "hello", doc.Body)
	assert.Equal(t, "alice", doc.Username)
	assert.Equal(t, 7, doc.BookmarkCount)
	assert.Equal(t, 3, doc.LikeCount)
	assert.Equal(t, []string{"a", "b"}, doc.TagNames)
	assert.Equal(t, []string{"u1"}, doc.GrantedUsers)
	require.NotNil(t, doc.GrantedGroup)
	assert.Equal(t, "g1", *doc.GrantedGroup)

	p.GrantedUsers[0] = "changed"
	assert.Equal(t, "u1", doc.GrantedUsers[0])
}

func TestProject_JSONShape(t *testing.T) {
	p := eligiblePage()
	p.GrantedUsers = nil

	raw, err := json.Marshal(Project(p, 0, nil))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.NotContains(t, m, "id")
	assert.Equal(t, []any{}, m["tag_names"])
	assert.Nil(t, m["granted_users"])
	assert.Nil(t, m["granted_group"])
	assert.EqualValues(t, GrantRestricted, m["grant"])
	assert.Contains(t, m, "comment_count")
}

func TestParseGrant(t *testing.T) {
	g, err := ParseGrant("user_group")
	require.NoError(t, err)
	assert.Equal(t, GrantUserGroup, g)

	g, err = ParseGrant("2")
	require.NoError(t, err)
	assert.Equal(t, GrantRestricted, g)

	_, err = ParseGrant("7")
	assert.Error(t, err)
	_, err = ParseGrant("secret")
	assert.Error(t, err)

	assert.Equal(t, "OWNER", GrantOwner.String())
	assert.Equal(t, "UNKNOWN(0)", Grant(0).String())
}
