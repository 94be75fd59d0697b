package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nl2sql/queryengine/internal/llm"
)

// Classifier routes a question to one of the pool names the
// Dispatcher was built with, preferring a cached or freshly-made LM
// call and falling back to a local heuristic when the LM is
// unavailable, grounded on the same degrade-to-heuristic posture the
// breaker gives every other LM call in this codebase.
type Classifier struct {
	llmClient *llm.Client
	pools     []string
	temp      float64
	log       *slog.Logger
}

// NewClassifier builds a Classifier that only ever returns a name
// present in pools.
func NewClassifier(llmClient *llm.Client, pools []string, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{llmClient: llmClient, pools: pools, temp: 0, log: log}
}

// Classify returns a pool name for question. It never returns a name
// absent from c.pools: an LM response outside that set, or an LM
// failure of any kind, falls back to the heuristic.
func (c *Classifier) Classify(ctx context.Context, question string) string {
	if c.llmClient != nil {
		if name, ok := c.classifyViaLLM(ctx, question); ok {
			return name
		}
	}
	return c.clampToKnown(heuristicClassify(question))
}

func (c *Classifier) classifyViaLLM(ctx context.Context, question string) (string, bool) {
	system := "Classify the complexity of a natural-language data question as exactly one word: simple, standard, or complex. simple means a single aggregate over one table. complex means multiple joins, subqueries, or window functions are likely needed. Respond with only the one word."
	raw, err := c.llmClient.Complete(ctx, system, question, c.temp)
	if err != nil {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range c.pools {
		if p == name {
			return name, true
		}
	}
	return "", false
}

func (c *Classifier) clampToKnown(name string) string {
	for _, p := range c.pools {
		if p == name {
			return name
		}
	}
	if len(c.pools) > 0 {
		return c.pools[0]
	}
	return name
}

var complexityKeywords = []string{"join", "group by", "average", "trend", "compare", "correlation", "percentage", "ratio", "top ", "rank", "window", "over time", "each", "per "}

// heuristicClassify is a cheap local fallback: question length and the
// presence of multi-clause keywords push a question from simple toward
// complex, the same coarse signal the cache key fingerprint already
// treats as independent inputs.
func heuristicClassify(question string) string {
	lower := strings.ToLower(question)
	words := len(strings.Fields(lower))

	hits := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}

	switch {
	case hits >= 2 || words > 40:
		return "complex"
	case hits == 1 || words > 15:
		return "standard"
	default:
		return "simple"
	}
}
