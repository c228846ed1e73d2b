package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DeriveKey computes a content-derived dataset key. Identical inputs give the
// same key, so pipeline children created with an empty salt are deduplicated
// by their key. Top-level datasets pass a random salt.
func DeriveKey(jobType string, parameters map[string]any, parentKey, salt string) (string, error) {
	// encoding/json sorts map keys, which makes the encoding canonical.
	params, err := json.Marshal(parameters)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, part := range [][]byte{[]byte(jobType), params, []byte(parentKey), []byte(salt)} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
