// Package embedded runs the search index in-process on bleve. It keeps the
// same contract as the Elasticsearch delegator: several physical indices, an
// alias table updated atomically, bulk writes, engine-side reindex copy, and
// the query tree translated into bleve queries.
package embedded

import (
	"encoding/json"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Stored field names. The Elasticsearch subfields collapse onto these.
const (
	fieldPath          = "path"
	fieldPathRaw       = "path_raw"
	fieldBody          = "body"
	fieldUsername      = "username"
	fieldTagNames      = "tag_names"
	fieldGrant         = "grant"
	fieldGrantedUsers  = "granted_users"
	fieldGrantedGroup  = "granted_group"
	fieldBookmarkCount = "bookmark_count"
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
	fieldSource        = "source_json"
)

var fieldAliases = map[string]string{
	query.FieldPath:          fieldPath,
	query.FieldPathJa:        fieldPath,
	query.FieldPathEn:        fieldPath,
	query.FieldPathRaw:       fieldPathRaw,
	query.FieldBody:          fieldBody,
	query.FieldBodyJa:        fieldBody,
	query.FieldBodyEn:        fieldBody,
	query.FieldTagNames:      fieldTagNames,
	query.FieldBookmarkCount: fieldBookmarkCount,
	query.FieldGrant:         fieldGrant,
	query.FieldGrantedUsers:  fieldGrantedUsers,
	query.FieldGrantedGroup:  fieldGrantedGroup,
	query.FieldUpdatedAt:     fieldUpdatedAt,
}

func fieldFor(name string) string {
	if f, ok := fieldAliases[name]; ok {
		return f
	}
	return name
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = standard.Name

	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = false
		return f
	}
	kw := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = false
		f.IncludeInAll = false
		return f
	}
	num := func() *mapping.FieldMapping {
		f := bleve.NewNumericFieldMapping()
		f.Store = false
		f.IncludeInAll = false
		return f
	}
	date := func() *mapping.FieldMapping {
		f := bleve.NewDateTimeFieldMapping()
		f.Store = false
		f.IncludeInAll = false
		return f
	}
	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(fieldPath, text())
	doc.AddFieldMappingsAt(fieldPathRaw, kw())
	doc.AddFieldMappingsAt(fieldBody, text())
	doc.AddFieldMappingsAt(fieldUsername, kw())
	doc.AddFieldMappingsAt(fieldTagNames, kw())
	doc.AddFieldMappingsAt(fieldGrant, num())
	doc.AddFieldMappingsAt(fieldGrantedUsers, kw())
	doc.AddFieldMappingsAt(fieldGrantedGroup, kw())
	doc.AddFieldMappingsAt(fieldBookmarkCount, num())
	doc.AddFieldMappingsAt(fieldCreatedAt, date())
	doc.AddFieldMappingsAt(fieldUpdatedAt, date())
	doc.AddFieldMappingsAt(fieldSource, source)

	m.DefaultMapping = doc
	return m
}

// fields flattens doc into what bleve indexes. The complete document is kept
// as stored JSON so hits can return _source and reindex can copy it.
func fields(doc *document.IndexedDocument) (map[string]any, error) {
	src, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		fieldPath:          doc.Path,
		fieldPathRaw:       doc.Path,
		fieldBody:          doc.Body,
		fieldUsername:      doc.Username,
		fieldTagNames:      doc.TagNames,
		fieldGrant:         float64(doc.Grant),
		fieldGrantedUsers:  doc.GrantedUsers,
		fieldBookmarkCount: float64(doc.BookmarkCount),
		fieldCreatedAt:     doc.CreatedAt,
		fieldUpdatedAt:     doc.UpdatedAt,
		fieldSource:        string(src),
	}
	if doc.GrantedGroup != nil {
		out[fieldGrantedGroup] = *doc.GrantedGroup
	}
	return out, nil
}

// decodeSource reverses the stored JSON of a hit.
func decodeSource(stored any, id string) (document.IndexedDocument, map[string]any, error) {
	var doc document.IndexedDocument
	raw, _ := stored.(string)
	if raw == "" {
		return doc, nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return doc, nil, err
	}
	doc.ID = id
	return doc, generic, nil
}
