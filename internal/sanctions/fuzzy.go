package sanctions

import (
	"sort"
	"strings"
)

// DefaultFuzzyThreshold discards entity matches scoring below it.
const DefaultFuzzyThreshold = 0.6

// containmentScore is assigned when one normalized name contains the other.
const containmentScore = 0.8

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - levenshtein/maxLen. Empty input on either side scores 0.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	if a == b {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(max(la, lb))
}

// MatchScore compares two names after normalisation. Substring containment
// floors the score at 0.8.
func MatchScore(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	score := Similarity(na, nb)
	if score < 1 && na != "" && nb != "" && (strings.Contains(na, nb) || strings.Contains(nb, na)) {
		score = max(score, containmentScore)
	}
	return score
}

// EntityMatch is one sanctioned entity that resembles the queried name.
type EntityMatch struct {
	Entity      Entity
	MatchedName string
	Similarity  float64
}

// MatchEntities returns entities whose name or alias scores at or above threshold,
// best match first.
func MatchEntities(name string, entities []Entity, threshold float64) []EntityMatch {
	if strings.TrimSpace(name) == "" {
		return nil
	}

	matches := make([]EntityMatch, 0)
	for _, entity := range entities {
		best := EntityMatch{Entity: entity}
		for _, candidate := range entity.names() {
			if score := MatchScore(name, candidate); score > best.Similarity {
				best.Similarity = score
				best.MatchedName = candidate
			}
		}
		if best.Similarity >= threshold && best.Similarity > 0 {
			matches = append(matches, best)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
