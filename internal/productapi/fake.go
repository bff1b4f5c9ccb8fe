package productapi

import (
	"embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"finitefield.org/pcshop/internal/domain"
)

//go:embed fixtures/*.yaml
var fixtureFS embed.FS

type fixtureFile struct {
	Currency    string                      `yaml:"currency"`
	Collections map[string][]map[string]any `yaml:"collections"`
}

type fixtureStore struct {
	collections map[string][]domain.Product
}

var (
	fixturesOnce sync.Once
	fixtures     *fixtureStore
)

func defaultFixtures() *fixtureStore {
	fixturesOnce.Do(func() {
		data, err := fixtureFS.ReadFile("fixtures/products.yaml")
		if err != nil {
			fixtures = &fixtureStore{collections: map[string][]domain.Product{}}
			return
		}
		store, err := parseFixtures(data)
		if err != nil {
			fixtures = &fixtureStore{collections: map[string][]domain.Product{}}
			return
		}
		fixtures = store
	})
	return fixtures
}

func parseFixtures(data []byte) (*fixtureStore, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	store := &fixtureStore{collections: make(map[string][]domain.Product, len(file.Collections))}
	for name, records := range file.Collections {
		products := make([]domain.Product, 0, len(records))
		for _, rec := range records {
			p := productFromMap(rec)
			if p.Currency == "" {
				p.Currency = strings.ToUpper(file.Currency)
			}
			products = append(products, p)
		}
		store.collections[name] = products
	}
	return store, nil
}

func (s *fixtureStore) list(q Query) []domain.Product {
	source := s.collections[strings.TrimSpace(q.Collection)]
	category := strings.TrimSpace(q.Category)
	out := make([]domain.Product, 0, len(source))
	for _, p := range source {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (s *fixtureStore) get(collection, id string) (domain.Product, bool) {
	for _, p := range s.collections[collection] {
		if p.ID == id {
			return p, true
		}
	}
	// Related ids may point across collections.
	for _, products := range s.collections {
		for _, p := range products {
			if p.ID == id {
				return p, true
			}
		}
	}
	return domain.Product{}, false
}
