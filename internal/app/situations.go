package app

import "math/rand"

// Situations is the built-in prompt list used when a leader submits nothing
var Situations = []string{
	// School & work
	"When you see your crush with someone else...",
	"When the teacher says 'pop quiz'...",
	"When you realize you left your homework at home...",
	"When you're pretending to understand the lecture...",
	"When the meeting could have been an email...",
	"When your boss says 'quick call?' at 4:59pm...",
	"When you finally fix the bug and don't know why it works...",
	"When the group project is due tomorrow and nobody started...",

	// Money & food
	"When you're broke but your friends want to go out...",
	"When you're trying to be healthy but see pizza...",
	"When the delivery driver is 1 minute away for 20 minutes...",
	"When you check your bank account after the weekend...",
	"When someone eats the leftovers you were saving...",

	// Everyday life
	"When someone spoils your favorite show...",
	"When you hear your alarm go off on Monday morning...",
	"When your phone is at 1% and you're nowhere near a charger...",
	"When you wave back at someone who wasn't waving at you...",
	"When the Wi-Fi drops during the final boss...",
	"When your mom says 'we have food at home'...",
	"When you send a text to the wrong group chat...",
	"When you open the front camera by accident...",
	"When you step on a LEGO in the dark...",
}

// RandomSituation picks a situation not in used. Once every situation has
// been used it falls back to the whole list.
func RandomSituation(rng *rand.Rand, used []string) string {
	seen := make(map[string]bool, len(used))
	for _, s := range used {
		seen[s] = true
	}

	fresh := make([]string, 0, len(Situations))
	for _, s := range Situations {
		if !seen[s] {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		fresh = Situations
	}

	return fresh[rng.Intn(len(fresh))]
}
