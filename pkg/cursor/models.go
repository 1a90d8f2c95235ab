package cursor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// modelCacheTTL is how long a fetched model list stays fresh.
const modelCacheTTL = time.Hour

// fuzzyConfidenceThreshold is the minimum similarity for substituting a
// deprecated model name with a live one.
const fuzzyConfidenceThreshold = 0.7

// ModelValidator resolves requested model names against the live model list.
// The list is cached for an hour with a single-writer refresh path.
type ModelValidator struct {
	client *Client

	mu        sync.RWMutex
	models    []string
	fetchedAt time.Time
}

// NewModelValidator creates a validator backed by the given client.
func NewModelValidator(client *Client) *ModelValidator {
	return &ModelValidator{client: client}
}

// Resolution is the outcome of model validation.
type Resolution struct {
	// Model is nil for Auto mode: the create-agent payload must omit the
	// model field and let the service choose.
	Model *string

	// Substituted is set when a deprecated name was fuzzy-matched.
	Substituted bool

	// Warning describes why the request fell back to Auto mode, if it did.
	Warning string
}

// Resolve applies the validation policy: empty name is Auto mode; an exact
// match passes through; a near match substitutes; anything else falls back
// to Auto with a warning.
func (v *ModelValidator) Resolve(ctx context.Context, apiKey, requested string) Resolution {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return Resolution{}
	}

	live, err := v.liveModels(ctx, apiKey)
	if err != nil {
		// Without a list there is nothing to validate against; Auto mode
		// keeps the dispatch moving.
		slog.Warn("Model list unavailable, falling back to auto mode", "error", err)
		return Resolution{Warning: "model list unavailable: " + err.Error()}
	}

	for _, m := range live {
		if m == requested {
			name := m
			return Resolution{Model: &name}
		}
	}

	if best, score := closestModel(requested, live); score >= fuzzyConfidenceThreshold {
		slog.Info("Substituted deprecated model name",
			"requested", requested, "substituted", best, "confidence", score)
		return Resolution{Model: &best, Substituted: true}
	}

	return Resolution{Warning: "unknown model " + requested + ", using auto mode"}
}

// Refresh forces a fetch of the model list regardless of cache age.
func (v *ModelValidator) Refresh(ctx context.Context, apiKey string) error {
	models, err := v.client.ListModels(ctx, apiKey)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.models = models
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}

func (v *ModelValidator) liveModels(ctx context.Context, apiKey string) ([]string, error) {
	v.mu.RLock()
	fresh := time.Since(v.fetchedAt) < modelCacheTTL && v.models != nil
	models := v.models
	v.mu.RUnlock()
	if fresh {
		return models, nil
	}

	if err := v.Refresh(ctx, apiKey); err != nil {
		// Serve a stale list over no list.
		if models != nil {
			return models, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.models, nil
}

// closestModel returns the live model most similar to the requested name and
// its similarity in [0,1].
func closestModel(requested string, live []string) (string, float64) {
	want := normalizeModelName(requested)
	best := ""
	bestScore := 0.0
	for _, m := range live {
		score := similarity(want, normalizeModelName(m))
		if score > bestScore {
			best = m
			bestScore = score
		}
	}
	return best, bestScore
}

func normalizeModelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// similarity is 1 - levenshtein/maxLen, with containment treated as a strong
// match (deprecated names are usually versioned variants of live ones).
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		shorter, longer := len(a), len(b)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return float64(shorter) / float64(longer)
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
