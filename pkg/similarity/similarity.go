// Package similarity implements string and value comparison algorithms
package similarity

import (
	"math"
	"strings"
	"time"
)

// Algorithm names a string-similarity strategy. New algorithms register
// behind Score without touching callers.
type Algorithm string

const (
	AlgorithmLevenshtein Algorithm = "levenshtein"
	AlgorithmJaroWinkler Algorithm = "jaro_winkler"
	AlgorithmTokenCosine Algorithm = "token_cosine"
	AlgorithmHybrid      Algorithm = "hybrid"
)

// KnownAlgorithm reports whether the name is a supported algorithm.
func KnownAlgorithm(name Algorithm) bool {
	switch name {
	case AlgorithmLevenshtein, AlgorithmJaroWinkler, AlgorithmTokenCosine, AlgorithmHybrid:
		return true
	}
	return false
}

// Score compares two strings with the named algorithm.
// Returns a value between 0.0 (no similarity) and 1.0 (exact match).
func Score(a, b string, algorithm Algorithm) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	switch algorithm {
	case AlgorithmLevenshtein:
		return Levenshtein(a, b)
	case AlgorithmJaroWinkler:
		return JaroWinkler(a, b)
	case AlgorithmTokenCosine:
		return TokenCosine(a, b)
	case AlgorithmHybrid:
		return (Levenshtein(a, b) + JaroWinkler(a, b) + TokenCosine(a, b)) / 3
	default:
		return Levenshtein(a, b)
	}
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	// Winkler modification: boost for common prefix
	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] == b[i] {
			prefixLen++
		} else {
			break
		}
	}

	// Winkler scaling factor is typically 0.1
	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Maximum distance for character matching
	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	transpositions := 0

	// Find matches
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	// Count transpositions
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein calculates edit-distance similarity between two strings
// Returns a similarity score between 0.0 and 1.0
func Levenshtein(a, b string) float64 {
	distance := LevenshteinDistance(a, b)
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two rows for dynamic programming
	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(min(row[j-1]+1, prevRow[j]+1), prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// TokenCosine calculates cosine similarity over whitespace tokens
func TokenCosine(a, b string) float64 {
	aTokens := tokenCounts(a)
	bTokens := tokenCounts(b)

	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0.0
	}

	var dot float64
	for token, count := range aTokens {
		if other, ok := bTokens[token]; ok {
			dot += float64(count * other)
		}
	}

	var aNorm, bNorm float64
	for _, count := range aTokens {
		aNorm += float64(count * count)
	}
	for _, count := range bTokens {
		bNorm += float64(count * count)
	}

	if aNorm == 0 || bNorm == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(aNorm) * math.Sqrt(bNorm))
}

func tokenCounts(s string) map[string]int {
	counts := make(map[string]int)
	for _, token := range strings.Fields(s) {
		counts[token]++
	}
	return counts
}

// DateProximity calculates a proximity score for two times
// Returns 1.0 for exact match, decreasing linearly to 0.0 at maxDaysDiff
func DateProximity(a, b time.Time, maxDaysDiff int) float64 {
	if a.IsZero() || b.IsZero() {
		return 0.0
	}

	daysDiff := math.Abs(a.Sub(b).Hours() / 24)

	if daysDiff == 0 {
		return 1.0
	}
	if daysDiff >= float64(maxDaysDiff) {
		return 0.0
	}

	// Linear decay
	return 1.0 - (daysDiff / float64(maxDaysDiff))
}

// NumericProximity calculates a proximity score for two numbers
// Returns 1.0 for exact match, decreasing based on absolute difference
func NumericProximity(a, b, maxDiff float64) float64 {
	if a == b {
		return 1.0
	}

	diff := math.Abs(a - b)
	if diff >= maxDiff {
		return 0.0
	}

	return 1.0 - (diff / maxDiff)
}

const earthRadiusM = 6371000

// HaversineDistance returns the great-circle distance in meters between
// two WGS84 points.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// DistanceDecay converts a distance into a score from 1.0 at zero distance
// to 0.0 at maxRadius, with linear or inverse falloff.
func DistanceDecay(distanceM, maxRadiusM float64, falloff string) float64 {
	if distanceM <= 0 {
		return 1.0
	}
	if distanceM >= maxRadiusM {
		return 0.0
	}
	if falloff == "inverse" {
		return 1.0 / (1.0 + distanceM/maxRadiusM*9)
	}
	return 1.0 - distanceM/maxRadiusM
}
