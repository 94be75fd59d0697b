// Package llm is the LM Client: a rate-limited, circuit-broken,
// retrying, cached wrapper around one or more completion providers.
package llm

import "context"

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string
	Content string
}

// Provider is a single completion backend, kept deliberately narrow so
// both an HTTP chat-completions endpoint and a langchaingo-backed model
// can implement it.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// ProviderFactory builds a Provider for a given model name, a
// registration shape that lets swapping or adding providers skip
// touching client.go entirely.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)
