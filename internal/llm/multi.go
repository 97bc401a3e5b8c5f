package llm

import (
	"context"
	"fmt"
	"strings"
)

// MultiClient routes each call to a provider by model name. Exact model
// mappings win over prefix rules; anything unmatched goes to the
// fallback, normally the local Ollama server.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	prefixes []prefixRule
	fallback Client
}

type prefixRule struct {
	prefix   string
	provider string
}

// NewMultiClient creates a router that sends unmatched models to
// fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// AddPrefix routes every model whose name starts with prefix to a
// provider, e.g. "claude-" to "anthropic". Rules are tried in the
// order they were added.
func (m *MultiClient) AddPrefix(prefix, providerName string) {
	m.prefixes = append(m.prefixes, prefixRule{prefix: prefix, provider: providerName})
}

// Provider names the provider model is routed to, or "" for the
// fallback.
func (m *MultiClient) Provider(model string) string {
	if provider, ok := m.models[model]; ok {
		if _, ok := m.clients[provider]; ok {
			return provider
		}
	}
	for _, r := range m.prefixes {
		if strings.HasPrefix(model, r.prefix) {
			if _, ok := m.clients[r.provider]; ok {
				return r.provider
			}
		}
	}
	return ""
}

func (m *MultiClient) clientFor(model string) Client {
	if provider := m.Provider(model); provider != "" {
		return m.clients[provider]
	}
	return m.fallback
}

// Chat sends a request to the provider registered for the model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, opts)
}

// Ping checks the fallback provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback != nil {
		return m.fallback.Ping(ctx)
	}
	return fmt.Errorf("no fallback client configured")
}
