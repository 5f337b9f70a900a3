package testredis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartRedis starts a disposable Redis container, used for both the stream
// notifier and the alias cache, and returns a redis:// URL.
func StartRedis(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping redis container in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start redis container: %v", err)
	}
	testcontainers.CleanupContainer(tb, container)

	host, err := container.Host(ctx)
	if err != nil {
		tb.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		tb.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s/0", host, port.Port())

	opts, err := redis.ParseURL(url)
	if err != nil {
		tb.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := testutil.WaitReady(ctx, "redis", 10*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		tb.Fatal(err)
	}
	return url
}
