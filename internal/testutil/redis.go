//go:build integration

// Package testutil starts real Redis servers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dyluth/collective/pkg/blackboard"
)

// RedisImage is the image every integration test runs against.
const RedisImage = "redis:7-alpine"

// StartRedis runs a Redis container for the lifetime of t and returns its URL.
func StartRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

// NewClient connects to url on instance and closes the client when t ends.
func NewClient(t *testing.T, url, instance string) *blackboard.Client {
	t.Helper()
	client, err := blackboard.NewClientFromURL(url, instance)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()))
	return client
}
