package memory

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Scoring defaults. Alpha weighs semantic similarity against keyword
// overlap; the recency factor maps item age onto (0.5, 1.0] with the
// given half-life, so even ancient items keep 85% of their base score.
const (
	DefaultAlpha        = 0.7
	DefaultHalfLifeDays = 14.0
	DefaultMinSim       = 0.55
	DefaultRecallLimit  = 50
)

// tokenRe matches runs of letters or digits in any script, so keyword
// overlap works for CJK text without word boundaries.
var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		set[tok] = struct{}{}
	}
	return set
}

// KeywordOverlap scores the token overlap of a and b as
// |A ∩ B| / sqrt(|A| * |B|), in [0, 1].
func KeywordOverlap(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(ta))*float64(len(tb)))
}

// Recency returns 0.5^(ageDays/halfLifeDays). Items from the future
// score 1.
func Recency(createdAt, now time.Time, halfLifeDays float64) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	if halfLifeDays < 1e-6 {
		halfLifeDays = 1e-6
	}
	return math.Pow(0.5, days/halfLifeDays)
}

// Fuse combines the three signals into the final ranking score:
// (alpha*cosine + (1-alpha)*keyword) * (0.85 + 0.15*recency).
func Fuse(alpha, cosine, keyword, recency float64) float64 {
	base := alpha*cosine + (1-alpha)*keyword
	return base * (0.85 + 0.15*recency)
}

// L2Normalize scales v to unit length in place and returns it. Zero
// vectors are returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Cosine returns the dot product of a and b. Both are expected to be
// L2-normalized, which makes the dot product their cosine similarity.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
