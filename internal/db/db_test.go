package db

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const surrealImage = "surrealdb/surrealdb:v3.0.0-beta.1"

// testDimension keeps vectors small; the HNSW index is sized to match.
const testDimension = 4

var testDB *Client

// TestMain runs the package against one SurrealDB container. Short mode
// starts nothing and every test skips itself.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	code, err := runWithSurreal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surrealdb test setup: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func runWithSurreal(m *testing.M) (int, error) {
	// Ryuk needs a privileged docker socket that CI runners often lack.
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        surrealImage,
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return 0, fmt.Errorf("start container: %w", err)
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	url, err := rpcURL(ctx, container)
	if err != nil {
		return 0, err
	}

	testDB, err = NewClient(ctx, Config{
		URL:       url,
		Namespace: "echoes_test",
		Database:  "echoes_test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = testDB.Close(context.Background()) }()

	if err := testDB.InitSchema(ctx, testDimension); err != nil {
		return 0, err
	}
	return m.Run(), nil
}

func rpcURL(ctx context.Context, c testcontainers.Container) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	// Some docker setups report "null".
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := c.MappedPort(ctx, "8000")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}
	return fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()), nil
}

// requireDB skips in short mode and wipes data so each test starts empty.
func requireDB(t *testing.T) context.Context {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	if err := testDB.WipeData(ctx); err != nil {
		t.Fatalf("wipe data: %v", err)
	}
	return ctx
}
