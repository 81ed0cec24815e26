package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/models"
)

const fixture = `
site:
  - id: s1
    name: Lantin
    city: Juprelle
    status: en cours
    updated_at: 2026-03-01T10:00:00Z
  - id: s2
    name: Namur
note:
  - id: n1
    title: Livraison
    content: "<p>Livraison du <strong>beton</strong> lundi</p>"
    site_id: s1
subcontractor:
  - id: sc1
    name: Electricite Dubois
    site_ids: [s2, s1]
`

func TestFileProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0644))

	p := NewFileProvider(path, arbor.NewLogger())
	ctx := context.Background()

	sites, err := p.Load(ctx, models.EntityTypeSite)
	require.NoError(t, err)
	require.Len(t, sites, 2)

	lantin, ok := sites[0].(*models.Site)
	require.True(t, ok)
	assert.Equal(t, "s1", lantin.ID)
	assert.Equal(t, "Lantin", lantin.Name)
	assert.Equal(t, "Juprelle", lantin.City)
	require.NotNil(t, lantin.UpdatedAt)
	assert.Equal(t, 2026, lantin.UpdatedAt.Year())

	notes, err := p.Load(ctx, models.EntityTypeNote)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "s1", notes[0].(*models.Note).SiteID)

	subs, err := p.Load(ctx, models.EntityTypeSubcontractor)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, subs[0].(*models.Subcontractor).SiteIDs)

	machines, err := p.Load(ctx, models.EntityTypeMachine)
	require.NoError(t, err)
	assert.Empty(t, machines)
}

func TestFileProvider_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"), arbor.NewLogger()).Load(ctx, models.EntityTypeSite)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spaceship:\n  - id: x\n"), 0644))
	_, err = NewFileProvider(path, arbor.NewLogger()).Load(ctx, models.EntityTypeSite)
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider()

	p.Set(models.EntityTypeRack, &models.Rack{EntityBase: models.EntityBase{ID: "r1"}, Name: "A1"})
	racks, err := p.Load(ctx, models.EntityTypeRack)
	require.NoError(t, err)
	assert.Len(t, racks, 1)

	p.Fail(models.EntityTypeRack, errors.New("db down"))
	_, err = p.Load(ctx, models.EntityTypeRack)
	assert.Error(t, err)

	p.Fail(models.EntityTypeRack, nil)
	_, err = p.Load(ctx, models.EntityTypeRack)
	assert.NoError(t, err)
}
