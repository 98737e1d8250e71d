package convert

import (
	"errors"
	"log/slog"
	"sync"
)

// Factory builds the converter for a strategy.
type Factory func(Strategy) (Converter, error)

// DoclingFactory routes text formats locally and sends the rest to docling.
func DoclingFactory(baseURL string) Factory {
	return func(s Strategy) (Converter, error) {
		return NewRouter(NewDoclingConverter(baseURL, s)), nil
	}
}

// StrategyProvider lazily builds one converter per strategy and reuses it.
type StrategyProvider struct {
	mu         sync.Mutex
	factory    Factory
	converters map[Strategy]Converter
}

func NewStrategyProvider(factory Factory) *StrategyProvider {
	return &StrategyProvider{factory: factory, converters: make(map[Strategy]Converter)}
}

func (p *StrategyProvider) Get(s Strategy) (Converter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.converters[s]; ok {
		return c, nil
	}
	c, err := p.factory(s)
	if err != nil {
		return nil, err
	}
	p.converters[s] = c
	return c, nil
}

// Cleanup unloads every cached converter.
func (p *StrategyProvider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for s, c := range p.converters {
		if closer, ok := c.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(p.converters, s)
		slog.Debug("unloaded converter", "strategy", s)
	}
	return errors.Join(errs...)
}
