// Package normalizers provides field normalization functions for
// fingerprinting and comparison
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("ntitle", NormalizeTitle)
	Register("nvenue", NormalizeVenue)
	Register("naddress", NormalizeAddress)
	Register("ncity", NormalizeCity)
	Register("ncategory", NormalizeCategory)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation removes all punctuation and symbol characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CollapseWhitespace squeezes runs of whitespace into single spaces
func CollapseWhitespace(s string) string {
	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		result.WriteRune(r)
		prevSpace = false
	}
	return strings.TrimSpace(result.String())
}

// NormalizeTitle normalizes an event title for matching
// - Lowercase
// - Remove punctuation
// - Collapse whitespace
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	s = RemovePunctuation(s)
	return CollapseWhitespace(s)
}

// venueSuffixes are trailing venue-type words that vary between sources
// ("The Fillmore Theatre" vs "Fillmore Theater").
var venueSuffixes = []string{
	" theatre", " theater", " hall", " arena", " stadium", " auditorium",
	" center", " centre", " club", " lounge", " ballroom", " pavilion",
}

// NormalizeVenue normalizes a venue name for matching
// - Lowercase, strip punctuation, collapse whitespace
// - Drop a leading "the"
// - Drop a trailing venue-type suffix
func NormalizeVenue(s string) string {
	s = NormalizeTitle(s)
	s = strings.TrimPrefix(s, "the ")
	for _, suffix := range venueSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
			break
		}
	}
	return s
}

// NormalizeCity normalizes a city name for cluster bucketing
func NormalizeCity(s string) string {
	return CollapseWhitespace(strings.ToLower(strings.TrimSpace(s)))
}

// NormalizeCategory normalizes an event category label for comparison
// - Lowercase
// - Spell out "&" so "Rock & Roll" and "Rock and Roll" converge
// - Remove remaining punctuation, collapse whitespace
func NormalizeCategory(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = RemovePunctuation(s)
	return CollapseWhitespace(s)
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeAddress normalizes an address string
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)

	// Common abbreviations
	replacements := map[string]string{
		" street":    " st",
		" avenue":    " ave",
		" boulevard": " blvd",
		" drive":     " dr",
		" road":      " rd",
		" lane":      " ln",
		" court":     " ct",
		" circle":    " cir",
		" place":     " pl",
		" suite":     " ste",
		" north":     " n",
		" south":     " s",
		" east":      " e",
		" west":      " w",
	}

	for full, abbr := range replacements {
		s = strings.ReplaceAll(s, full, abbr)
	}

	spaceRe := regexp.MustCompile(`\s+`)
	s = spaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// Tokenize splits a normalized string into tokens for overlap comparison
func Tokenize(s string) []string {
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
