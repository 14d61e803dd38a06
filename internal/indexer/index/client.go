// Package index defines what the sync engine needs from a search index
// engine: index and alias management, engine-native reindex copy, bulk
// writes, and search. Elasticsearch and bleve both implement Client.
package index

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
)

type Client interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string) error
	DeleteIndex(ctx context.Context, name string) error

	AliasExists(ctx context.Context, alias string) (bool, error)
	// AliasTargets lists the physical indices alias currently resolves to.
	AliasTargets(ctx context.Context, alias string) ([]string, error)
	PutAlias(ctx context.Context, index, alias string) error
	// UpdateAliases applies every action atomically.
	UpdateAliases(ctx context.Context, actions []AliasAction) error

	// Reindex copies every document of src into dst and returns once the
	// copy is complete.
	Reindex(ctx context.Context, src, dst string) error
	// Bulk applies ops in one call. A non-nil error means the call itself
	// failed; per-item failures are reported in the result.
	Bulk(ctx context.Context, ops []BulkOp) (*BulkResult, error)

	Search(ctx context.Context, req *query.Request) (*query.Result, error)
	Info(ctx context.Context) (*Info, error)
}

// Names derives the physical and alias names from the configured index name.
type Names struct {
	Live  string
	Tmp   string
	Alias string
}

func NewNames(indexName string) Names {
	return Names{
		Live:  indexName,
		Tmp:   indexName + "-tmp",
		Alias: indexName + "-alias",
	}
}

type BulkAction string

const (
	ActionIndex  BulkAction = "index"
	ActionDelete BulkAction = "delete"
)

type BulkOp struct {
	Action BulkAction
	Index  string
	ID     string
	Doc    *document.IndexedDocument
}

func IndexOp(indexName string, doc document.IndexedDocument) BulkOp {
	return BulkOp{Action: ActionIndex, Index: indexName, ID: doc.ID, Doc: &doc}
}

func DeleteOp(indexName, id string) BulkOp {
	return BulkOp{Action: ActionDelete, Index: indexName, ID: id}
}

type BulkItem struct {
	Action BulkAction
	ID     string
	Status int
	Error  string
}

// Failed reports whether the engine rejected the item. Deleting a document
// that is not in the index is not a failure.
func (it BulkItem) Failed() bool {
	if it.Action == ActionDelete && it.Status == 404 {
		return false
	}
	return it.Error != "" || it.Status >= 300
}

type BulkResult struct {
	Took  int64
	Items []BulkItem
}

func (r *BulkResult) Succeeded() int {
	return len(r.Items) - r.FailedCount()
}

func (r *BulkResult) FailedCount() int {
	n := 0
	for _, it := range r.Items {
		if it.Failed() {
			n++
		}
	}
	return n
}

// FirstError summarises the first failed item, for logging.
func (r *BulkResult) FirstError() error {
	for _, it := range r.Items {
		if it.Failed() {
			return fmt.Errorf("%s %s: status %d: %s", it.Action, it.ID, it.Status, it.Error)
		}
	}
	return nil
}

type AliasOp string

const (
	AliasAdd    AliasOp = "add"
	AliasRemove AliasOp = "remove"
)

type AliasAction struct {
	Op    AliasOp
	Index string
	Alias string
}

func AddAlias(indexName, alias string) AliasAction {
	return AliasAction{Op: AliasAdd, Index: indexName, Alias: alias}
}

func RemoveAlias(indexName, alias string) AliasAction {
	return AliasAction{Op: AliasRemove, Index: indexName, Alias: alias}
}

// Info describes the engine behind a Client.
type Info struct {
	Engine      string   `json:"engine"`
	Version     string   `json:"version"`
	ClusterName string   `json:"cluster_name,omitempty"`
	Nodes       []Node   `json:"nodes,omitempty"`
	Indices     []string `json:"indices,omitempty"`
}

type Node struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Plugins []string `json:"plugins,omitempty"`
}
