package testutils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"

	"docrag/internal/config"
)

const (
	pgImage       = "pgvector/pgvector:pg16"
	weaviateImage = "semitechnologies/weaviate:latest"
	nsqImage      = "nsqio/nsq:v1.3.0"

	startupTimeout = 90 * time.Second

	testDBName = "docrag_test"
	testDBUser = "test"
	testDBPass = "test"
)

// IntegrationSuite runs Postgres with pgvector, Weaviate and nsqd in
// containers. Every backend the service can be configured with is reachable
// once Setup returns. Callers skip under -short.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	DSN      string
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	NSQAddr      string
	NSQHTTPAddr  string
	WeaviateAddr string

	pgHost string
	pgPort int

	cleanups []func(context.Context)
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// Setup starts all three containers and applies migrations. Any failure
// aborts the test; whatever started is released at test cleanup.
func (s *IntegrationSuite) Setup() {
	s.T.Cleanup(s.Teardown)
	ctx, cancel := context.WithTimeout(context.Background(), 3*startupTimeout)
	defer cancel()

	s.startPostgres(ctx)
	s.migrate()
	s.startWeaviate(ctx)
	s.startNSQ(ctx)
}

func (s *IntegrationSuite) startPostgres(ctx context.Context) {
	c, err := postgres.Run(ctx, pgImage,
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout)),
	)
	require.NoError(s.T, err, "start postgres")
	s.onTeardown(func(ctx context.Context) { _ = c.Terminate(ctx) })

	s.DSN, err = c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)
	s.pgHost, err = c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.pgPort = port.Int()

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)
	s.onTeardown(func(context.Context) { _ = s.DB.Close() })
}

func (s *IntegrationSuite) migrate() {
	_, file, _, _ := runtime.Caller(0)
	src := fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(file), "..", "..", "migrations"))

	m, err := migrate.New(src, s.DSN)
	require.NoError(s.T, err, "load migrations")
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(s.T, err, "apply migrations")
	}
}

func (s *IntegrationSuite) startWeaviate(ctx context.Context) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        weaviateImage,
			ExposedPorts: []string{"8080/tcp", "50051/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":                 "none",
				"PERSISTENCE_DATA_PATH":                     "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/.well-known/ready").
				WithPort("8080/tcp").
				WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	require.NoError(s.T, err, "start weaviate")
	s.onTeardown(func(ctx context.Context) { _ = c.Terminate(ctx) })

	s.WeaviateAddr = s.endpoint(ctx, c, "8080/tcp")
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.WeaviateAddr, Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) startNSQ(ctx context.Context) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        nsqImage,
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForHTTP("/ping").WithPort("4151/tcp").WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	require.NoError(s.T, err, "start nsqd")
	s.onTeardown(func(ctx context.Context) { _ = c.Terminate(ctx) })

	s.NSQAddr = s.endpoint(ctx, c, "4150/tcp")
	s.NSQHTTPAddr = s.endpoint(ctx, c, "4151/tcp")

	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
	s.onTeardown(func(context.Context) { s.NSQ.Stop() })
	require.NoError(s.T, s.NSQ.Ping(), "ping nsqd")
}

func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port string) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func (s *IntegrationSuite) onTeardown(fn func(context.Context)) {
	s.cleanups = append(s.cleanups, fn)
}

// GetAppConfig returns a config using Postgres for both the queue and the
// vector store. Tests switch providers on the returned copy.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		ClientID:                   "integration",
		QueueProvider:              config.ProviderPostgres,
		VectorStore:                config.ProviderPostgres,
		LLMProvider:                config.LLMGemini,
		DBHost:                     s.pgHost,
		DBPort:                     s.pgPort,
		DBUser:                     testDBUser,
		DBPass:                     testDBPass,
		DBName:                     testDBName,
		WeaviateHost:               s.WeaviateAddr,
		WeaviateScheme:             "http",
		NSQDHost:                   s.NSQAddr,
		NSQDHTTP:                   s.NSQHTTPAddr,
		EmbeddingDimensions:        3,
		ChunkSize:                  1000,
		ChunkOverlap:               100,
		UpsertBatchSize:            64,
		ContinueOnBatchFailure:     true,
		IngestPoolSize:             2,
		TaskTimeoutSeconds:         60,
		PollingIntervalSeconds:     1,
		VisibilityTimeoutSecond:    30,
		MaxMessages:                10,
		DefaultDocumentSet:         "default",
		ReconcileInterval:          time.Minute,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// Teardown releases everything Setup started, newest first.
func (s *IntegrationSuite) Teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i](ctx)
	}
	s.cleanups = nil
}
