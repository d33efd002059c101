package domain

// Card is one meme image from the catalog
type Card struct {
	ID      string `json:"id"`
	Artwork string `json:"artwork"` // Image URL or asset path
	Alt     string `json:"alt,omitempty"`
}
