package programme

import (
	"context"
	"sort"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// Catalog объединяет статический список и хранилище при каждом чтении.
// При совпадении ID побеждает запись из хранилища.
type Catalog struct {
	seed  Source
	store Store
}

// NewCatalog создаёт каталог. Любой из источников может быть nil.
func NewCatalog(seed Source, store Store) *Catalog {
	return &Catalog{seed: seed, store: store}
}

// List возвращает объединённый список, отсортированный по названию.
func (c *Catalog) List(ctx context.Context) ([]*Programme, error) {
	byID := make(map[string]*Programme)

	if c.seed != nil {
		seeded, err := c.seed.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range seeded {
			byID[p.ID] = p
		}
	}
	if c.store != nil {
		stored, err := c.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range stored {
			byID[p.ID] = p
		}
	}

	out := make([]*Programme, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get ищет программу сначала в хранилище, затем в статическом списке.
func (c *Catalog) Get(ctx context.Context, id string) (*Programme, error) {
	if c.store != nil {
		p, err := c.store.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		if !shared.IsNotFound(err) {
			return nil, err
		}
	}
	if c.seed != nil {
		return c.seed.Get(ctx, id)
	}
	return nil, shared.ErrProgrammeNotFound
}

// Create сохраняет программу в хранилище.
func (c *Catalog) Create(ctx context.Context, p *Programme) error {
	if c.store == nil {
		return shared.NewDomainError("programme", "Create", shared.ErrInvalidState, "catalog has no writable store")
	}
	return c.store.Create(ctx, p)
}

// ListByFacilitator возвращает программы преподавателя из обоих источников.
func (c *Catalog) ListByFacilitator(ctx context.Context, facilitatorID string) ([]*Programme, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Programme
	for _, p := range all {
		if p.IsFacilitatedBy(facilitatorID) {
			out = append(out, p)
		}
	}
	return out, nil
}
