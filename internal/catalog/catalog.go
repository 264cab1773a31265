// Package catalog loads the events and ticket types the ledger is seeded with.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/ticket-inventory/internal/domain/inventory"
)

//go:embed demo.yaml
var demoCatalog []byte

var (
	ErrEmptyCatalog  = errors.New("catalog has no ticket types")
	ErrMissingID     = errors.New("catalog entry is missing an id")
	ErrDuplicateID   = errors.New("duplicate ticket type id")
	ErrInvalidCounts = errors.New("ticket type counts are invalid")
)

type Event struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	TicketTypes []inventory.TicketType `yaml:"ticket_types"`
}

type Catalog struct {
	Events []Event `yaml:"events"`
}

// Load reads a catalog file. An empty path yields the demo catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Demo(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Demo is the built-in single-event catalog.
func Demo() Catalog {
	c, err := Parse(demoCatalog)
	if err != nil {
		panic(fmt.Sprintf("demo catalog: %v", err))
	}
	return c
}

func (c Catalog) Validate() error {
	seen := make(map[string]bool)
	count := 0
	for _, ev := range c.Events {
		if ev.ID == "" {
			return ErrMissingID
		}
		for _, tt := range ev.TicketTypes {
			if tt.ID == "" {
				return fmt.Errorf("%w: ticket type in event %s", ErrMissingID, ev.ID)
			}
			if seen[tt.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateID, tt.ID)
			}
			if tt.Total < 0 || tt.InitialSold < 0 || tt.InitialSold > tt.Total {
				return fmt.Errorf("%w: %s total=%d sold=%d", ErrInvalidCounts, tt.ID, tt.Total, tt.InitialSold)
			}
			seen[tt.ID] = true
			count++
		}
	}
	if count == 0 {
		return ErrEmptyCatalog
	}
	return nil
}

// TicketTypes flattens the catalog, stamping each entry with its event id.
func (c Catalog) TicketTypes() []inventory.TicketType {
	var out []inventory.TicketType
	for _, ev := range c.Events {
		for _, tt := range ev.TicketTypes {
			tt.EventID = ev.ID
			out = append(out, tt)
		}
	}
	return out
}

func (c Catalog) Event(id string) (Event, bool) {
	for _, ev := range c.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}
