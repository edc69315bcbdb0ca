package curator

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// runFingerprint determines the cache directory of a run: identical inputs
// hash identically and reuse responses, anything that changes the requests
// changes the hash.
func runFingerprint(datasetHash, runName, model, formatSchema string, batch bool, backend string, genParams json.RawMessage) string {
	parts := []string{
		datasetHash,
		runName,
		model,
		formatSchema,
		strconv.FormatBool(batch),
		backend,
	}
	if len(genParams) > 0 && string(genParams) != "{}" {
		parts = append(parts, string(genParams))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, "_")))
}

// randomFingerprint makes every run unique when caching is disabled.
func randomFingerprint() string {
	var buf [8]byte
	rand.Read(buf[:])
	return fmt.Sprintf("%016x", xxhash.Sum64(buf[:]))
}
