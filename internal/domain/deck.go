package domain

import "math/rand"

// HandSize is the number of cards dealt to every player
const HandSize = 6

// Deal picks min(n, len(catalog)) distinct card ids uniformly at random
// without replacement. The catalog is not modified.
func Deal(catalog []string, n int, rng *rand.Rand) []string {
	if n > len(catalog) {
		n = len(catalog)
	}
	if n <= 0 {
		return []string{}
	}

	pool := make([]string, len(catalog))
	copy(pool, catalog)

	// Partial Fisher-Yates: the first n slots end up as the sample
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:n:n]
}

// TopUp deals cards from the catalog, skipping ones already held, until the
// hand reaches n cards. Existing cards keep their order.
func TopUp(catalog, hand []string, n int, rng *rand.Rand) []string {
	result := make([]string, len(hand), max(n, len(hand)))
	copy(result, hand)
	if len(hand) >= n {
		return result
	}

	held := make(map[string]bool, len(hand))
	for _, id := range hand {
		held[id] = true
	}

	remaining := make([]string, 0, len(catalog))
	for _, id := range catalog {
		if !held[id] {
			remaining = append(remaining, id)
		}
	}

	return append(result, Deal(remaining, n-len(hand), rng)...)
}
