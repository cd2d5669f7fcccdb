package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/scenescout/meld/pkg/models"
)

// hashExclusions are fields that change without affecting match-relevant
// content; they never invalidate cached fingerprints or pair scores.
var hashExclusions = map[string]bool{
	"ingested_at": true,
	"updated_at":  true,
	"merged_from": true,
	"merged_at":   true,
}

// ContentHash returns a deterministic SHA256 over the match-relevant fields
// of an event. Cache entries keyed on it invalidate automatically when a
// relevant field changes.
func ContentHash(event *models.EventRecord) string {
	b, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return ""
	}

	canonical := canonicalize(m, hashExclusions, "")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// canonicalize creates a deterministic string representation of a value by
// sorting keys and recursively processing nested structures.
func canonicalize(data any, exclude map[string]bool, currentPath string) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v, exclude, currentPath)
	case []any:
		return canonicalizeArray(v, exclude, currentPath)
	default:
		// For primitives, use JSON encoding
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any, exclude map[string]bool, currentPath string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result strings.Builder
	result.WriteString("{")
	first := true
	for _, k := range keys {
		fieldPath := k
		if currentPath != "" {
			fieldPath = currentPath + "." + k
		}
		if exclude[fieldPath] {
			continue
		}

		if !first {
			result.WriteString(",")
		}
		first = false
		keyJSON, _ := json.Marshal(k)
		result.Write(keyJSON)
		result.WriteString(":")
		result.WriteString(canonicalize(m[k], exclude, fieldPath))
	}
	result.WriteString("}")
	return result.String()
}

func canonicalizeArray(arr []any, exclude map[string]bool, currentPath string) string {
	var result strings.Builder
	result.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(canonicalize(v, exclude, currentPath))
	}
	result.WriteString("]")
	return result.String()
}
