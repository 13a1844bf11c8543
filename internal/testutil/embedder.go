package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// FakeEmbedderDim matches the embedding column dimension in the schema
// so the same fake works against the real database in integration tests.
const FakeEmbedderDim = 768

var fakeTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// FakeEmbedder is a deterministic, offline embedder: each token hashes
// to a bucket and the bucket counts form the vector, L2-normalized.
// Texts sharing tokens get high cosine similarity, disjoint texts get
// zero, and the same text always embeds identically.
type FakeEmbedder struct{}

// Embed never fails and never touches the network.
func (FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, FakeEmbedderDim)
	for _, tok := range fakeTokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%FakeEmbedderDim]++
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
