package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/models"
	"gopkg.in/yaml.v3"
)

// FileProvider serves business entities from a YAML document keyed by entity type:
//
//	site:
//	  - id: s1
//	    name: Lantin
//	client:
//	  - id: c1
//	    name: Dupont
//
// The file is re-read on every Load so edits are picked up by the next reindex.
type FileProvider struct {
	path   string
	logger arbor.ILogger
}

// NewFileProvider creates a provider for the YAML file at path
func NewFileProvider(path string, logger arbor.ILogger) *FileProvider {
	return &FileProvider{path: path, logger: logger}
}

// Load returns every entity of entityType in file order
func (p *FileProvider) Load(ctx context.Context, entityType models.EntityType) ([]models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read business data %s: %w", p.path, err)
	}

	entities, err := DecodeEntities(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse business data %s: %w", p.path, err)
	}

	p.logger.Debug().
		Str("path", p.path).
		Str("entity_type", string(entityType)).
		Int("count", len(entities[entityType])).
		Msg("Loaded business entities")

	return entities[entityType], nil
}

// DecodeEntities parses a YAML document keyed by entity type
func DecodeEntities(data []byte) (map[models.EntityType][]models.Entity, error) {
	var raw map[string][]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[models.EntityType][]models.Entity, len(raw))
	for key, nodes := range raw {
		entityType, err := models.ParseEntityType(key)
		if err != nil {
			return nil, err
		}
		for i := range nodes {
			entity, err := models.NewEntity(entityType)
			if err != nil {
				return nil, err
			}
			if err := nodes[i].Decode(entity); err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			out[entityType] = append(out[entityType], entity)
		}
	}
	return out, nil
}
