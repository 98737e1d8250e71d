package config

const (
	ProviderMemory   = "memory"
	ProviderNSQ      = "nsq"
	ProviderPostgres = "postgres"
	ProviderWeaviate = "weaviate"
	ProviderSQLite   = "sqlite"

	LLMGemini = "gemini"
	LLMOpenAI = "openai"
)

// QueueProviders lists the accepted QUEUE_PROVIDER values.
var QueueProviders = []string{ProviderMemory, ProviderNSQ, ProviderPostgres}

// VectorStores lists the accepted VECTOR_STORE values.
var VectorStores = []string{ProviderMemory, ProviderWeaviate, ProviderPostgres, ProviderSQLite}

var LLMProviders = []string{LLMGemini, LLMOpenAI}
