package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"memechaos/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if c.Len() < domain.HandSize*2 {
		t.Fatalf("default catalog too small: %d cards", c.Len())
	}
	for _, id := range c.IDs() {
		card, ok := c.Card(id)
		if !ok {
			t.Fatalf("Card(%q) missing", id)
		}
		if card.Artwork == "" {
			t.Errorf("card %s has no artwork", id)
		}
	}
}

func TestNewRejectsBadCards(t *testing.T) {
	tests := []struct {
		name  string
		cards []domain.Card
		want  error
	}{
		{"empty", nil, ErrEmptyCatalog},
		{"missing id", []domain.Card{{ID: " ", Artwork: "a.jpg"}}, ErrMissingID},
		{"duplicate", []domain.Card{{ID: "a"}, {ID: "b"}, {ID: "a"}}, ErrDuplicateID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cards)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	data := `[{"id":"x","artwork":"/x.png"},{"id":"y","artwork":"/y.png","alt":"Y"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := c.IDs(); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("IDs() = %v", got)
	}
	if card, _ := c.Card("y"); card.Alt != "Y" {
		t.Errorf("Card(y) = %+v", card)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestCardsReturnsCopy(t *testing.T) {
	c, err := New([]domain.Card{{ID: "a", Artwork: "a.png"}})
	if err != nil {
		t.Fatal(err)
	}
	cards := c.Cards()
	cards[0].Artwork = "changed"

	if card, _ := c.Card("a"); card.Artwork != "a.png" {
		t.Errorf("catalog mutated through Cards(): %+v", card)
	}
}
