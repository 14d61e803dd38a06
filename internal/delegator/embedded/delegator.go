package embedded

import (
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
)

// New opens the bleve indices under dir (in memory when dir is empty) and
// returns a delegator over them. The index name is always the default.
func New(dir string, deps delegator.Deps) (*delegator.Base, error) {
	engine, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return delegator.NewBase(delegator.KindBleve, engine, delegator.DefaultIndexName, deps, engine.Close), nil
}
