// Package catalog holds the meme cards players can be dealt.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"memechaos/internal/domain"
)

//go:embed cards.json
var defaultCards []byte

var (
	ErrEmptyCatalog = errors.New("catalog has no cards")
	ErrDuplicateID  = errors.New("duplicate card id")
	ErrMissingID    = errors.New("card without id")
)

// Catalog is an immutable, ordered set of cards
type Catalog struct {
	cards []domain.Card
	byID  map[string]domain.Card
	ids   []string
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Parse(defaultCards)
}

// Load reads a catalog from a JSON file. An empty path yields the built-in
// catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a JSON array of cards
func Parse(data []byte) (*Catalog, error) {
	var cards []domain.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	return New(cards)
}

// New builds a catalog, rejecting empty or duplicate ids
func New(cards []domain.Card) (*Catalog, error) {
	if len(cards) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		cards: make([]domain.Card, 0, len(cards)),
		byID:  make(map[string]domain.Card, len(cards)),
		ids:   make([]string, 0, len(cards)),
	}
	for i, card := range cards {
		card.ID = strings.TrimSpace(card.ID)
		if card.ID == "" {
			return nil, fmt.Errorf("card %d: %w", i, ErrMissingID)
		}
		if _, ok := c.byID[card.ID]; ok {
			return nil, fmt.Errorf("%s: %w", card.ID, ErrDuplicateID)
		}
		c.cards = append(c.cards, card)
		c.byID[card.ID] = card
		c.ids = append(c.ids, card.ID)
	}

	return c, nil
}

// IDs returns the card ids in catalog order. The slice must not be modified.
func (c *Catalog) IDs() []string {
	return c.ids
}

// Cards returns a copy of every card
func (c *Catalog) Cards() []domain.Card {
	out := make([]domain.Card, len(c.cards))
	copy(out, c.cards)
	return out
}

// Card looks up a card by id
func (c *Catalog) Card(id string) (domain.Card, bool) {
	card, ok := c.byID[id]
	return card, ok
}

// Len returns the number of cards
func (c *Catalog) Len() int {
	return len(c.cards)
}
