package models

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the kind of business entity a chunk was built from
type EntityType string

const (
	EntityTypeSite              EntityType = "site"
	EntityTypeClient            EntityType = "client"
	EntityTypeOrder             EntityType = "order"
	EntityTypeProgressStatement EntityType = "progress-statement"
	EntityTypeSubcontractor     EntityType = "subcontractor"
	EntityTypeDocument          EntityType = "document"
	EntityTypeNote              EntityType = "note"
	EntityTypeRemark            EntityType = "remark"
	EntityTypeMaterial          EntityType = "material"
	EntityTypeRack              EntityType = "rack"
	EntityTypeMachine           EntityType = "machine"
	EntityTypeExpense           EntityType = "expense"
	EntityTypeTask              EntityType = "task"
	EntityTypeClientChoice      EntityType = "client-choice"
)

var allEntityTypes = []EntityType{
	EntityTypeSite,
	EntityTypeClient,
	EntityTypeOrder,
	EntityTypeProgressStatement,
	EntityTypeSubcontractor,
	EntityTypeDocument,
	EntityTypeNote,
	EntityTypeRemark,
	EntityTypeMaterial,
	EntityTypeRack,
	EntityTypeMachine,
	EntityTypeExpense,
	EntityTypeTask,
	EntityTypeClientChoice,
}

// AllEntityTypes returns every supported entity type in indexing order
func AllEntityTypes() []EntityType {
	out := make([]EntityType, len(allEntityTypes))
	copy(out, allEntityTypes)
	return out
}

// ParseEntityType validates a raw entity type name
func ParseEntityType(raw string) (EntityType, error) {
	candidate := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range allEntityTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type: %q", raw)
}

// Entity is the closed set of business entities that can be indexed.
// Implementations are the variant structs below; the unexported method keeps
// the set closed to this package.
type Entity interface {
	Kind() EntityType
	Base() EntityBase
	isEntity()
}

// EntityBase holds the identity fields shared by every variant
type EntityBase struct {
	ID        string     `yaml:"id" json:"id"`
	CreatedAt *time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt *time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Site is a construction site (chantier)
type Site struct {
	EntityBase  `yaml:",inline"`
	Name        string     `yaml:"name"`
	Address     string     `yaml:"address"`
	City        string     `yaml:"city"`
	PostalCode  string     `yaml:"postal_code"`
	ClientID    string     `yaml:"client_id"`
	ClientName  string     `yaml:"client_name"`
	Status      string     `yaml:"status"`
	StartDate   *time.Time `yaml:"start_date,omitempty"`
	EndDate     *time.Time `yaml:"end_date,omitempty"`
	Budget      float64    `yaml:"budget"`
	Description string     `yaml:"description"`
}

// Client is a customer of the company
type Client struct {
	EntityBase `yaml:",inline"`
	Name       string `yaml:"name"`
	Company    string `yaml:"company"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	Address    string `yaml:"address"`
	City       string `yaml:"city"`
	VATNumber  string `yaml:"vat_number"`
	Notes      string `yaml:"notes"`
}

// Order is a quote or purchase order attached to a site
type Order struct {
	EntityBase  `yaml:",inline"`
	Number      string     `yaml:"number"`
	SiteID      string     `yaml:"site_id"`
	SiteName    string     `yaml:"site_name"`
	ClientName  string     `yaml:"client_name"`
	Amount      float64    `yaml:"amount"`
	Status      string     `yaml:"status"`
	IssuedAt    *time.Time `yaml:"issued_at,omitempty"`
	Description string     `yaml:"description"`
}

// ProgressStatement is a periodic billing statement of work completed on a site
type ProgressStatement struct {
	EntityBase  `yaml:",inline"`
	Number      int        `yaml:"number"`
	SiteID      string     `yaml:"site_id"`
	SiteName    string     `yaml:"site_name"`
	Percentage  float64    `yaml:"percentage"`
	Amount      float64    `yaml:"amount"`
	Status      string     `yaml:"status"`
	PeriodStart *time.Time `yaml:"period_start,omitempty"`
	PeriodEnd   *time.Time `yaml:"period_end,omitempty"`
}

// Subcontractor is an external company working on sites
type Subcontractor struct {
	EntityBase `yaml:",inline"`
	Name       string   `yaml:"name"`
	Trade      string   `yaml:"trade"`
	Email      string   `yaml:"email"`
	Phone      string   `yaml:"phone"`
	SiteIDs    []string `yaml:"site_ids"`
	Notes      string   `yaml:"notes"`
}

// Document is an uploaded file reference (plans, permits, reports)
type Document struct {
	EntityBase  `yaml:",inline"`
	Title       string `yaml:"title"`
	Category    string `yaml:"category"`
	FileName    string `yaml:"file_name"`
	SiteID      string `yaml:"site_id"`
	SiteName    string `yaml:"site_name"`
	Description string `yaml:"description"`
}

// Note is a free-form rich-text note, usually attached to a site
type Note struct {
	EntityBase `yaml:",inline"`
	Title      string `yaml:"title"`
	Content    string `yaml:"content"` // May contain HTML from the rich-text editor
	SiteID     string `yaml:"site_id"`
	SiteName   string `yaml:"site_name"`
	Author     string `yaml:"author"`
}

// Remark is a short observation raised on a site (defect, reminder)
type Remark struct {
	EntityBase `yaml:",inline"`
	Content    string `yaml:"content"`
	SiteID     string `yaml:"site_id"`
	SiteName   string `yaml:"site_name"`
	Author     string `yaml:"author"`
	Priority   string `yaml:"priority"`
	Status     string `yaml:"status"`
}

// Material is a stock item in the warehouse
type Material struct {
	EntityBase `yaml:",inline"`
	Name       string  `yaml:"name"`
	Reference  string  `yaml:"reference"`
	Unit       string  `yaml:"unit"`
	Quantity   float64 `yaml:"quantity"`
	UnitPrice  float64 `yaml:"unit_price"`
	Supplier   string  `yaml:"supplier"`
	RackID     string  `yaml:"rack_id"`
	RackName   string  `yaml:"rack_name"`
}

// Rack is a warehouse storage location
type Rack struct {
	EntityBase `yaml:",inline"`
	Name       string `yaml:"name"`
	Location   string `yaml:"location"`
	Capacity   int    `yaml:"capacity"`
}

// Machine is a piece of equipment that can be assigned to sites
type Machine struct {
	EntityBase      `yaml:",inline"`
	Name            string     `yaml:"name"`
	Model           string     `yaml:"model"`
	SerialNumber    string     `yaml:"serial_number"`
	Status          string     `yaml:"status"`
	SiteID          string     `yaml:"site_id"`
	SiteName        string     `yaml:"site_name"`
	NextMaintenance *time.Time `yaml:"next_maintenance,omitempty"`
}

// Expense is a cost booked against a site
type Expense struct {
	EntityBase `yaml:",inline"`
	Label      string     `yaml:"label"`
	Amount     float64    `yaml:"amount"`
	Category   string     `yaml:"category"`
	Supplier   string     `yaml:"supplier"`
	SiteID     string     `yaml:"site_id"`
	SiteName   string     `yaml:"site_name"`
	Date       *time.Time `yaml:"date,omitempty"`
}

// Task is a planned piece of work
type Task struct {
	EntityBase  `yaml:",inline"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	SiteID      string     `yaml:"site_id"`
	SiteName    string     `yaml:"site_name"`
	Assignee    string     `yaml:"assignee"`
	Status      string     `yaml:"status"`
	Priority    string     `yaml:"priority"`
	DueDate     *time.Time `yaml:"due_date,omitempty"`
}

// ClientChoice is a finishing option selected by the client for a site
type ClientChoice struct {
	EntityBase `yaml:",inline"`
	SiteID     string  `yaml:"site_id"`
	SiteName   string  `yaml:"site_name"`
	Category   string  `yaml:"category"`
	Label      string  `yaml:"label"`
	Option     string  `yaml:"option"`
	Price      float64 `yaml:"price"`
	Status     string  `yaml:"status"`
}

func (e *Site) Kind() EntityType              { return EntityTypeSite }
func (e *Client) Kind() EntityType            { return EntityTypeClient }
func (e *Order) Kind() EntityType             { return EntityTypeOrder }
func (e *ProgressStatement) Kind() EntityType { return EntityTypeProgressStatement }
func (e *Subcontractor) Kind() EntityType     { return EntityTypeSubcontractor }
func (e *Document) Kind() EntityType          { return EntityTypeDocument }
func (e *Note) Kind() EntityType              { return EntityTypeNote }
func (e *Remark) Kind() EntityType            { return EntityTypeRemark }
func (e *Material) Kind() EntityType          { return EntityTypeMaterial }
func (e *Rack) Kind() EntityType              { return EntityTypeRack }
func (e *Machine) Kind() EntityType           { return EntityTypeMachine }
func (e *Expense) Kind() EntityType           { return EntityTypeExpense }
func (e *Task) Kind() EntityType              { return EntityTypeTask }
func (e *ClientChoice) Kind() EntityType      { return EntityTypeClientChoice }

func (b EntityBase) Base() EntityBase { return b }
func (EntityBase) isEntity()          {}

// NewEntity returns an empty variant for the given type
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityTypeSite:
		return &Site{}, nil
	case EntityTypeClient:
		return &Client{}, nil
	case EntityTypeOrder:
		return &Order{}, nil
	case EntityTypeProgressStatement:
		return &ProgressStatement{}, nil
	case EntityTypeSubcontractor:
		return &Subcontractor{}, nil
	case EntityTypeDocument:
		return &Document{}, nil
	case EntityTypeNote:
		return &Note{}, nil
	case EntityTypeRemark:
		return &Remark{}, nil
	case EntityTypeMaterial:
		return &Material{}, nil
	case EntityTypeRack:
		return &Rack{}, nil
	case EntityTypeMachine:
		return &Machine{}, nil
	case EntityTypeExpense:
		return &Expense{}, nil
	case EntityTypeTask:
		return &Task{}, nil
	case EntityTypeClientChoice:
		return &ClientChoice{}, nil
	}
	return nil, fmt.Errorf("unknown entity type: %q", t)
}
