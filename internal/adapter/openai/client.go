// Package openai provides embeddings and completions against any
// OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

var ErrEmptyResponse = errors.New("openai returned no choices")

type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	// Dimensions requests shortened vectors from models that support it.
	Dimensions int
}

type Client struct {
	llm      *lcopenai.LLM
	embedder *embeddings.EmbedderImpl
}

func NewClient(cfg Config, extra ...lcopenai.Option) (*Client, error) {
	opts := []lcopenai.Option{
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithModel(cfg.ChatModel),
		lcopenai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Dimensions > 0 && strings.HasPrefix(cfg.EmbeddingModel, "text-embedding-3") {
		opts = append(opts, lcopenai.WithEmbeddingDimensions(cfg.Dimensions))
	}
	opts = append(opts, extra...)

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Client{llm: llm, embedder: embedder}, nil
}

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedder.EmbedDocuments(ctx, texts)
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.EmbedQuery(ctx, text)
}

func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var content []llms.MessageContent
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	resp, err := c.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
