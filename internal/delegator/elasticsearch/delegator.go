package elasticsearch

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
)

// New builds the delegator for an Elasticsearch or Searchbox endpoint. The
// two differ only in that Searchbox URIs carry basic-auth credentials.
func New(kind delegator.Kind, uri, mappingFile string, timeout time.Duration, deps delegator.Deps) (*delegator.Base, error) {
	ep, err := delegator.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(ClientConfig{
		BaseURL:        ep.Host,
		Username:       ep.Username,
		Password:       ep.Password,
		MappingFile:    mappingFile,
		RequestTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return delegator.NewBase(kind, client, ep.IndexName, deps, nil), nil
}
