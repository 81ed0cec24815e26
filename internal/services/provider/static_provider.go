package provider

import (
	"context"
	"sync"

	"github.com/ternarybob/chantier/internal/models"
)

// StaticProvider serves entities held in memory. The host application or a
// test sets the current entity set per type.
type StaticProvider struct {
	mu       sync.RWMutex
	entities map[models.EntityType][]models.Entity
	errs     map[models.EntityType]error
}

// NewStaticProvider creates an empty provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		entities: make(map[models.EntityType][]models.Entity),
		errs:     make(map[models.EntityType]error),
	}
}

// Set replaces the entities of one type
func (p *StaticProvider) Set(entityType models.EntityType, entities ...models.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities[entityType] = append([]models.Entity(nil), entities...)
}

// Fail makes Load return err for entityType; nil clears it
func (p *StaticProvider) Fail(entityType models.EntityType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, entityType)
		return
	}
	p.errs[entityType] = err
}

// Load returns a copy of the entity list for entityType
func (p *StaticProvider) Load(ctx context.Context, entityType models.EntityType) ([]models.Entity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[entityType]; err != nil {
		return nil, err
	}
	return append([]models.Entity(nil), p.entities[entityType]...), nil
}
