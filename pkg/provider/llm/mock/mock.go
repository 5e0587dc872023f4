// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/hearthside/cozyvillage/pkg/provider/llm"
)

// Provider implements llm.Provider with scriptable behaviour. The zero value
// returns empty responses; set CompleteFunc or queue Responses to script it.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, handles every Complete call.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Responses are consumed in order when CompleteFunc is nil. Each entry
	// yields either its response or its error.
	Responses []Response

	// Calls records every request received, in order.
	Calls []llm.CompletionRequest
}

// Response is one scripted Complete outcome.
type Response struct {
	Content string
	Err     error
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.CompleteFunc
	var scripted *Response
	if fn == nil && len(p.Responses) > 0 {
		scripted = &p.Responses[0]
		p.Responses = p.Responses[1:]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if scripted != nil {
		if scripted.Err != nil {
			return nil, scripted.Err
		}
		return &llm.CompletionResponse{Content: scripted.Content}, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ContextWindow: 8192, MaxOutputTokens: 256}
}

// CallCount returns how many Complete calls the provider has received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
