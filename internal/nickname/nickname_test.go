package nickname

import (
	"strings"
	"testing"
	"unicode"
)

func TestGenerate_ColorAnimalShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := Generate()
		if name == "" {
			t.Fatal("empty nickname")
		}

		// Two capitalized words concatenated: exactly two upper-case runes,
		// the first at position 0.
		var uppers []int
		for pos, r := range name {
			if unicode.IsUpper(r) {
				uppers = append(uppers, pos)
			}
		}
		if len(uppers) != 2 || uppers[0] != 0 {
			t.Fatalf("nickname %q is not a capitalized pair", name)
		}

		color := name[:uppers[1]]
		animal := name[uppers[1]:]
		if !contains(colors, color) {
			t.Fatalf("nickname %q has unknown color %q", name, color)
		}
		if !contains(animals, animal) {
			t.Fatalf("nickname %q has unknown animal %q", name, animal)
		}
	}
}

func TestWordLists_NoEmptyOrLowercaseEntries(t *testing.T) {
	for _, list := range [][]string{colors, animals} {
		for _, w := range list {
			if w == "" || strings.TrimSpace(w) != w {
				t.Fatalf("bad word list entry %q", w)
			}
			if !unicode.IsUpper(rune(w[0])) {
				t.Fatalf("word %q is not capitalized", w)
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, w := range list {
		if w == v {
			return true
		}
	}
	return false
}
