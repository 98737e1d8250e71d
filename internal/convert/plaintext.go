package convert

import (
	"context"
	"fmt"
	"os"
	"slices"
)

// TextExtensions are read verbatim instead of being sent to a converter.
var TextExtensions = []string{".txt", ".md", ".markdown", ".csv", ".tsv", ".json", ".log", ".yaml", ".yml", ".xml", ".rst"}

func IsText(src Source) bool {
	return slices.Contains(TextExtensions, src.Ext())
}

type PlainTextConverter struct{}

func (PlainTextConverter) Convert(_ context.Context, src Source) (*Conversion, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return NewConversion(string(data), nil), nil
}

// Router reads text formats directly and hands everything else to next.
type Router struct {
	next Converter
}

func NewRouter(next Converter) *Router {
	return &Router{next: next}
}

func (r *Router) Convert(ctx context.Context, src Source) (*Conversion, error) {
	if IsText(src) {
		return PlainTextConverter{}.Convert(ctx, src)
	}
	return r.next.Convert(ctx, src)
}

func (r *Router) Close() error {
	if c, ok := r.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
