package interfaces

import (
	"context"

	"github.com/ternarybob/chantier/internal/models"
)

// BusinessDataProvider yields the full current set of entities of one type.
// It is read-only and owned by the host application.
type BusinessDataProvider interface {
	Load(ctx context.Context, entityType models.EntityType) ([]models.Entity, error)
}
