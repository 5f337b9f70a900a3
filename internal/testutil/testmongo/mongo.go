package testmongo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/testutil"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// StartMongo starts a disposable standalone MongoDB container and returns its
// connection URI. Callers pick their own database name.
func StartMongo(tb testing.TB) string {
	tb.Helper()
	return start(tb, false)
}

// StartMongoReplicaSet starts a single-node replica set, which supports
// transactions, and returns its connection URI.
func StartMongoReplicaSet(tb testing.TB) string {
	tb.Helper()
	return start(tb, true, mongodb.WithReplicaSet("rs0"))
}

func start(tb testing.TB, direct bool, opts ...testcontainers.ContainerCustomizer) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping mongodb container in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:8", opts...)
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	testcontainers.CleanupContainer(tb, container)

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("mongodb connection string: %v", err)
	}
	if direct {
		uri = directConnection(uri)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		tb.Fatalf("mongodb client: %v", err)
	}
	defer client.Disconnect(ctx)
	if err := testutil.WaitReady(ctx, "mongodb", 20*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}); err != nil {
		tb.Fatal(err)
	}
	return uri
}

// directConnection pins the client to the one replica set member, which
// advertises its container hostname.
func directConnection(uri string) string {
	switch {
	case strings.Contains(uri, "directConnection"):
		return uri
	case strings.Contains(uri, "?"):
		return uri + "&directConnection=true"
	default:
		return strings.TrimSuffix(uri, "/") + "/?directConnection=true"
	}
}
