package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Room names read as adjective-creature-thing, e.g. "sleepy-otter-lantern".
var (
	adjectives = []string{
		"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
		"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
		"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "lucky", "mellow", "nimble", "sunny",
	}

	creatures = []string{
		"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
		"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "dolphin", "narwhal", "seahorse",
		"dragon", "unicorn", "griffin", "phoenix", "sprite", "pixie", "gnome", "beaver", "ferret", "raccoon",
	}

	things = []string{
		"pancake", "waffle", "ramen", "taco", "dumpling", "noodle", "muffin", "biscuit", "cupcake", "toffee",
		"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "meadow",
		"willow", "ember", "maple", "marble", "breeze", "thimble", "button", "sunbeam", "stardust", "pixel",
	}
)

// generateRoomID returns a memorable id that inUse does not report as taken.
// After a few collisions a fourth word is added to widen the space.
func generateRoomID(inUse func(string) bool) string {
	lists := [][]string{adjectives, creatures, things}

	for attempt := 0; ; attempt++ {
		words := make([]string, 0, 4)
		for _, list := range lists {
			words = append(words, pick(list))
		}
		if attempt >= 8 {
			words = append(words, pick(adjectives))
		}

		id := strings.Join(words, "-")
		if !inUse(id) {
			return id
		}
	}
}

// pick returns a uniformly chosen element using crypto/rand.
func pick(list []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(list))))
	if err != nil {
		panic("relay: crypto/rand failed: " + err.Error())
	}
	return list[n.Int64()]
}
