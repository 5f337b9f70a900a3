package testweaviate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartWeaviate starts a disposable Weaviate container with vectorization
// disabled and returns its http:// URL.
func StartWeaviate(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping weaviate container in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cr.weaviate.io/semitechnologies/weaviate:1.35.2",
			ExposedPorts: []string{"8080/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
				"CLUSTER_HOSTNAME":                        "node1",
			},
			WaitingFor: wait.ForHTTP("/v1/.well-known/ready").
				WithPort("8080/tcp").
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start weaviate container: %v", err)
	}

	testcontainers.CleanupContainer(tb, container)

	host, err := container.Host(ctx)
	if err != nil {
		tb.Fatalf("get weaviate host: %v", err)
	}
	port, err := container.MappedPort(ctx, "8080/tcp")
	if err != nil {
		tb.Fatalf("get weaviate mapped port: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}
