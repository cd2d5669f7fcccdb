package matching

import (
	"sync"

	"github.com/scenescout/meld/pkg/fingerprint"
	"github.com/scenescout/meld/pkg/models"
)

// scoreCache holds fingerprints keyed by event id and pairwise scores keyed
// by ordered id pair. Entries carry the source record's content hash, so a
// changed record misses the cache instead of serving stale data.
type scoreCache struct {
	fingerprints sync.Map // event id -> fingerprintEntry
	pairScores   sync.Map // pair key -> models.SimilarityScore
}

type fingerprintEntry struct {
	hash string
	fp   fingerprint.Fingerprint
}

func newScoreCache() *scoreCache {
	return &scoreCache{}
}

func (c *scoreCache) getFingerprint(eventID, hash string) (fingerprint.Fingerprint, bool) {
	v, ok := c.fingerprints.Load(eventID)
	if !ok {
		return fingerprint.Fingerprint{}, false
	}
	entry := v.(fingerprintEntry)
	if entry.hash != hash {
		return fingerprint.Fingerprint{}, false
	}
	return entry.fp, true
}

func (c *scoreCache) putFingerprint(eventID, hash string, fp fingerprint.Fingerprint) {
	c.fingerprints.Store(eventID, fingerprintEntry{hash: hash, fp: fp})
}

func (c *scoreCache) getPairScore(key string) (models.SimilarityScore, bool) {
	v, ok := c.pairScores.Load(key)
	if !ok {
		return models.SimilarityScore{}, false
	}
	return v.(models.SimilarityScore), true
}

func (c *scoreCache) putPairScore(key string, score models.SimilarityScore) {
	c.pairScores.Store(key, score)
}

// pairKey builds an order-independent cache key for an event pair.
func pairKey(idA, hashA, idB, hashB string) string {
	if idA > idB {
		idA, idB = idB, idA
		hashA, hashB = hashB, hashA
	}
	return idA + "|" + hashA + "|" + idB + "|" + hashB
}
