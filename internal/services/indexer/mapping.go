package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/chantier/internal/models"
)

// textBuilder accumulates "Label: value" lines, skipping empty values
type textBuilder struct {
	lines []string
}

func (b *textBuilder) add(label, value string) {
	value = NormalizeText(value)
	if value == "" {
		return
	}
	b.lines = append(b.lines, label+": "+value)
}

func (b *textBuilder) addDate(label string, t *time.Time) {
	if t == nil || t.IsZero() {
		return
	}
	b.add(label, t.UTC().Format("2006-01-02"))
}

func (b *textBuilder) addAmount(label string, amount float64) {
	if amount == 0 {
		return
	}
	b.add(label, strconv.FormatFloat(amount, 'f', 2, 64)+" EUR")
}

func (b *textBuilder) addNumber(label string, n float64) {
	if n == 0 {
		return
	}
	b.add(label, strconv.FormatFloat(n, 'f', -1, 64))
}

func (b *textBuilder) String() string {
	return strings.Join(b.lines, "\n")
}

// mapped is the entity-specific part of a chunk
type mapped struct {
	name    string
	scopeID string
	status  string
	extra   map[string]string
	text    textBuilder
}

// ChunkID returns the stable chunk identity for an entity
func ChunkID(entityType models.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}

// ContentHash returns the hex sha256 of content
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// BuildChunk maps an entity to its chunk without embedding. It returns false
// when the entity lacks an id or a display name. The content depends only on
// the entity fields, so an unchanged entity always maps to the same content.
func BuildChunk(entity models.Entity) (*models.DocumentChunk, bool) {
	if entity == nil {
		return nil, false
	}
	base := entity.Base()
	if strings.TrimSpace(base.ID) == "" {
		return nil, false
	}

	m := mapEntity(entity)
	m.name = strings.TrimSpace(m.name)
	if m.name == "" {
		return nil, false
	}

	header := fmt.Sprintf("[%s] %s", typeLabel(entity.Kind()), m.name)
	content := header
	if body := m.text.String(); body != "" {
		content += "\n" + body
	}

	chunk := &models.DocumentChunk{
		ID:      ChunkID(entity.Kind(), base.ID),
		Content: content,
		Metadata: models.ChunkMetadata{
			EntityType: entity.Kind(),
			EntityID:   base.ID,
			EntityName: m.name,
			CreatedAt:  base.CreatedAt,
			UpdatedAt:  base.UpdatedAt,
			ScopeID:    m.scopeID,
			Status:     m.status,
			Extra:      m.extra,
		},
		ContentHash: ContentHash(content),
	}
	return chunk, true
}

func typeLabel(t models.EntityType) string {
	switch t {
	case models.EntityTypeSite:
		return "Chantier"
	case models.EntityTypeClient:
		return "Client"
	case models.EntityTypeOrder:
		return "Commande"
	case models.EntityTypeProgressStatement:
		return "Etat d'avancement"
	case models.EntityTypeSubcontractor:
		return "Sous-traitant"
	case models.EntityTypeDocument:
		return "Document"
	case models.EntityTypeNote:
		return "Note"
	case models.EntityTypeRemark:
		return "Remarque"
	case models.EntityTypeMaterial:
		return "Materiau"
	case models.EntityTypeRack:
		return "Rayonnage"
	case models.EntityTypeMachine:
		return "Machine"
	case models.EntityTypeExpense:
		return "Depense"
	case models.EntityTypeTask:
		return "Tache"
	case models.EntityTypeClientChoice:
		return "Choix client"
	}
	return string(t)
}

// mapEntity is exhaustive over the closed entity set
func mapEntity(entity models.Entity) mapped {
	var m mapped

	switch e := entity.(type) {
	case *models.Site:
		m.name = e.Name
		m.scopeID = e.ID
		m.status = e.Status
		m.extra = extra("city", e.City, "client_id", e.ClientID)
		m.text.add("Adresse", joinNonEmpty(", ", e.Address, joinNonEmpty(" ", e.PostalCode, e.City)))
		m.text.add("Client", e.ClientName)
		m.text.add("Statut", e.Status)
		m.text.addDate("Debut", e.StartDate)
		m.text.addDate("Fin", e.EndDate)
		m.text.addAmount("Budget", e.Budget)
		m.text.add("Description", e.Description)

	case *models.Client:
		m.name = joinNonEmpty(" - ", e.Name, e.Company)
		m.extra = extra("city", e.City)
		m.text.add("Societe", e.Company)
		m.text.add("Email", e.Email)
		m.text.add("Telephone", e.Phone)
		m.text.add("Adresse", joinNonEmpty(", ", e.Address, e.City))
		m.text.add("TVA", e.VATNumber)
		m.text.add("Notes", e.Notes)

	case *models.Order:
		m.name = e.Number
		m.scopeID = e.SiteID
		m.status = e.Status
		m.text.add("Chantier", e.SiteName)
		m.text.add("Client", e.ClientName)
		m.text.addAmount("Montant", e.Amount)
		m.text.add("Statut", e.Status)
		m.text.addDate("Emise le", e.IssuedAt)
		m.text.add("Description", e.Description)

	case *models.ProgressStatement:
		label := "Etat d'avancement"
		if e.Number > 0 {
			label = fmt.Sprintf("Etat d'avancement n°%d", e.Number)
		}
		if e.Number > 0 || e.SiteName != "" {
			m.name = joinNonEmpty(" - ", label, e.SiteName)
		}
		m.scopeID = e.SiteID
		m.status = e.Status
		m.text.add("Chantier", e.SiteName)
		m.text.addNumber("Avancement (%)", e.Percentage)
		m.text.addAmount("Montant", e.Amount)
		m.text.add("Statut", e.Status)
		m.text.addDate("Periode du", e.PeriodStart)
		m.text.addDate("Periode au", e.PeriodEnd)

	case *models.Subcontractor:
		m.name = e.Name
		sites := append([]string(nil), e.SiteIDs...)
		sort.Strings(sites)
		m.extra = extra("trade", e.Trade, "site_ids", strings.Join(sites, ","))
		m.text.add("Corps de metier", e.Trade)
		m.text.add("Email", e.Email)
		m.text.add("Telephone", e.Phone)
		m.text.add("Notes", e.Notes)

	case *models.Document:
		m.name = e.Title
		m.scopeID = e.SiteID
		m.extra = extra("category", e.Category)
		m.text.add("Categorie", e.Category)
		m.text.add("Fichier", e.FileName)
		m.text.add("Chantier", e.SiteName)
		m.text.add("Description", e.Description)

	case *models.Note:
		m.name = e.Title
		if m.name == "" {
			m.name = truncateRunes(NormalizeText(e.Content), 60)
		}
		m.scopeID = e.SiteID
		m.text.add("Chantier", e.SiteName)
		m.text.add("Auteur", e.Author)
		m.text.add("Contenu", e.Content)

	case *models.Remark:
		m.name = truncateRunes(NormalizeText(e.Content), 60)
		m.scopeID = e.SiteID
		m.status = e.Status
		m.extra = extra("priority", e.Priority)
		m.text.add("Chantier", e.SiteName)
		m.text.add("Auteur", e.Author)
		m.text.add("Priorite", e.Priority)
		m.text.add("Statut", e.Status)
		m.text.add("Remarque", e.Content)

	case *models.Material:
		m.name = e.Name
		m.extra = extra("reference", e.Reference, "rack_id", e.RackID)
		m.text.add("Reference", e.Reference)
		m.text.add("Quantite", joinNonEmpty(" ", formatNumber(e.Quantity), e.Unit))
		m.text.addAmount("Prix unitaire", e.UnitPrice)
		m.text.add("Fournisseur", e.Supplier)
		m.text.add("Rayonnage", e.RackName)

	case *models.Rack:
		m.name = e.Name
		m.text.add("Emplacement", e.Location)
		if e.Capacity > 0 {
			m.text.add("Capacite", strconv.Itoa(e.Capacity))
		}

	case *models.Machine:
		m.name = e.Name
		m.scopeID = e.SiteID
		m.status = e.Status
		m.text.add("Modele", e.Model)
		m.text.add("Numero de serie", e.SerialNumber)
		m.text.add("Statut", e.Status)
		m.text.add("Chantier", e.SiteName)
		m.text.addDate("Prochain entretien", e.NextMaintenance)

	case *models.Expense:
		m.name = e.Label
		m.scopeID = e.SiteID
		m.extra = extra("category", e.Category)
		m.text.addAmount("Montant", e.Amount)
		m.text.add("Categorie", e.Category)
		m.text.add("Fournisseur", e.Supplier)
		m.text.add("Chantier", e.SiteName)
		m.text.addDate("Date", e.Date)

	case *models.Task:
		m.name = e.Title
		m.scopeID = e.SiteID
		m.status = e.Status
		m.extra = extra("assignee", e.Assignee, "priority", e.Priority)
		m.text.add("Chantier", e.SiteName)
		m.text.add("Assigne a", e.Assignee)
		m.text.add("Statut", e.Status)
		m.text.add("Priorite", e.Priority)
		m.text.addDate("Echeance", e.DueDate)
		m.text.add("Description", e.Description)

	case *models.ClientChoice:
		m.name = joinNonEmpty(" - ", e.Label, e.Option)
		m.scopeID = e.SiteID
		m.status = e.Status
		m.extra = extra("category", e.Category)
		m.text.add("Chantier", e.SiteName)
		m.text.add("Categorie", e.Category)
		m.text.add("Option", e.Option)
		m.text.addAmount("Prix", e.Price)
		m.text.add("Statut", e.Status)
	}

	return m
}

func formatNumber(n float64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// extra builds a metadata map from key/value pairs, dropping empty values
func extra(pairs ...string) map[string]string {
	var out map[string]string
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := strings.TrimSpace(pairs[i+1]); v != "" {
			if out == nil {
				out = make(map[string]string)
			}
			out[pairs[i]] = v
		}
	}
	return out
}
