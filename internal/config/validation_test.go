package config_test

import (
	"errors"
	"testing"

	"docrag/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		ClientID:            "tenant",
		QueueProvider:       "memory",
		VectorStore:         "memory",
		LLMProvider:         "gemini",
		EmbeddingDimensions: 768,
		ChunkSize:           1000,
		ChunkOverlap:        100,
		UpsertBatchSize:     64,
		TaskTimeoutSeconds:  1800,
		MaxMessages:         10,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:   "Valid Config",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "Missing ClientID",
			mutate:  func(c *config.Config) { c.ClientID = " " },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Unknown Queue Provider",
			mutate:  func(c *config.Config) { c.QueueProvider = "sqs" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Unknown LLM Provider",
			mutate:  func(c *config.Config) { c.LLMProvider = "cohere" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name: "Postgres Store Requires DBHost",
			mutate: func(c *config.Config) {
				c.VectorStore = "postgres"
				c.DBUser = "user"
				c.DBName = "db"
			},
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Postgres Queue With DB Settings",
			mutate: func(c *config.Config) {
				c.QueueProvider = "postgres"
				c.DBHost = "localhost"
				c.DBUser = "user"
				c.DBName = "db"
			},
		},
		{
			name:    "Overlap Not Smaller Than Chunk",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 1000 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Zero Batch Size",
			mutate:  func(c *config.Config) { c.UpsertBatchSize = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
