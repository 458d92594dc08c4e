package session

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	moods = []string{
		"quiet", "steady", "deep", "bright", "calm",
		"clear", "early", "late", "still", "sharp",
	}

	places = []string{
		"harbor", "summit", "meadow", "canyon", "lagoon",
		"orchard", "ridge", "delta", "fjord", "grove",
	}

	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateTitle returns a default session title such as "steady-harbor".
func GenerateTitle() string {
	return fmt.Sprintf("%s-%s", moods[rng.Intn(len(moods))], places[rng.Intn(len(places))])
}

// GenerateUniqueTitle generates a default title not rejected by exists.
// After repeated collisions it appends a unix timestamp.
func GenerateUniqueTitle(exists func(string) bool) string {
	for i := 0; i < 50; i++ {
		title := GenerateTitle()
		if !exists(title) {
			return title
		}
	}
	return fmt.Sprintf("%s-%d", GenerateTitle(), time.Now().Unix())
}

// IsGeneratedTitle reports whether title looks like a GenerateTitle result.
func IsGeneratedTitle(title string) bool {
	parts := strings.SplitN(title, "-", 3)
	if len(parts) < 2 {
		return false
	}
	return contains(moods, parts[0]) && contains(places, parts[1])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
