// Package convert turns source documents into markdown.
package convert

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrUnreadable      = errors.New("source is unreadable")
	ErrConversion      = errors.New("conversion failed")
	ErrUnknownStrategy = errors.New("unknown pipeline strategy")
)

type Strategy string

const (
	StrategyStandard Strategy = "standard"
	StrategyVLM      Strategy = "vlm"
)

var Strategies = []Strategy{StrategyStandard, StrategyVLM}

// ParseStrategy maps a pipeline name to a Strategy. Empty means standard.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	if s == "" {
		return StrategyStandard, nil
	}
	if !slices.Contains(Strategies, s) {
		return "", ErrUnknownStrategy
	}
	return s, nil
}

// Source is a document on local disk. Name carries the original filename
// and decides the format when Path is a temp file.
type Source struct {
	Path string
	Name string
}

func (s Source) Ext() string {
	name := s.Name
	if name == "" {
		name = s.Path
	}
	return strings.ToLower(filepath.Ext(name))
}

// Conversion holds the converted document. Callers must Release it once the
// markdown has been consumed.
type Conversion struct {
	Markdown string
	release  func()
}

func NewConversion(markdown string, release func()) *Conversion {
	return &Conversion{Markdown: markdown, release: release}
}

// Release drops the markdown and frees whatever the converter held for this
// document. Safe to call more than once.
func (c *Conversion) Release() {
	if c == nil {
		return
	}
	c.Markdown = ""
	if c.release != nil {
		c.release()
		c.release = nil
	}
}

type Converter interface {
	Convert(ctx context.Context, src Source) (*Conversion, error)
}

// Closer is implemented by converters holding resources worth unloading.
type Closer interface {
	Close() error
}
