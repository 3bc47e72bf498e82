// Package nickname generates anonymous display names for connecting peers,
// a capitalized color-animal pair like "CrimsonOtter".
package nickname

import (
	"crypto/rand"
	"log"
	"math/big"
)

var colors = []string{
	"Amber", "Aqua", "Azure", "Beige", "Bronze", "Cobalt", "Copper", "Coral",
	"Crimson", "Emerald", "Fuchsia", "Golden", "Indigo", "Ivory", "Jade",
	"Lavender", "Lime", "Magenta", "Maroon", "Mauve", "Olive", "Onyx",
	"Orchid", "Pearl", "Plum", "Ruby", "Saffron", "Sapphire", "Scarlet",
	"Sienna", "Silver", "Slate", "Tangerine", "Teal", "Topaz", "Turquoise",
	"Umber", "Vermilion", "Violet", "Zaffre",
}

var animals = []string{
	"Alpaca", "Badger", "Bison", "Capybara", "Cheetah", "Cougar", "Dingo",
	"Dolphin", "Falcon", "Ferret", "Gazelle", "Gecko", "Heron", "Ibex",
	"Jackal", "Jaguar", "Kestrel", "Koala", "Lemur", "Lynx", "Macaw",
	"Marmot", "Narwhal", "Ocelot", "Otter", "Panther", "Pelican", "Puffin",
	"Quokka", "Raccoon", "Raven", "Salamander", "Stoat", "Tapir", "Toucan",
	"Viper", "Walrus", "Wombat", "Yak", "Zebra",
}

// Generate returns a new nickname. Names are not guaranteed unique; they
// are display strings, not identifiers.
func Generate() string {
	return colors[randomIndex(len(colors))] + animals[randomIndex(len(animals))]
}

// randomIndex returns a cryptographically secure random index for a slice of
// the given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic("failed to generate random index:", err)
	}
	return int(n.Int64())
}
