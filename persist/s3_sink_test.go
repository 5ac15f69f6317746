package persist

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/DavidPeltz/pinvault"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
)

func TestS3Sink(t *testing.T) {
	endpoint := os.Getenv("S3_MINIO_ENDPOINT")
	if len(endpoint) == 0 {
		if testing.Short() {
			t.Skip("skipping S3 sink test in short mode")
		}

		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     testAccessKey,
				"MINIO_ROOT_PASSWORD": testSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		}

		minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			t.Fatalf("Failed to start MinIO container: %v", err)
		}

		defer func() {
			if err = minioContainer.Terminate(ctx); err != nil {
				t.Logf("Warning: Failed to terminate MinIO container: %v", err)
			}
		}()

		mappedPort, err := minioContainer.MappedPort(ctx, "9000")
		if err != nil {
			t.Fatalf("Failed to get mapped port: %v", err)
		}

		os.Setenv("S3_MINIO_ENDPOINT", fmt.Sprintf("http://localhost:%s", mappedPort.Port()))
	}

	t.Run("runS3SinkTest", func(t *testing.T) {
		runS3SinkTest(t)
	})
}

func runS3SinkTest(t *testing.T) {
	endpointURL := os.Getenv("S3_MINIO_ENDPOINT")
	if endpointURL == "" {
		t.Fatal("S3_MINIO_ENDPOINT not set - this should be configured by the testcontainer setup")
	}

	endpoint, useSSL := parseEndpoint(endpointURL)

	sink, err := NewS3Sink(S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		UseSSL:          useSSL,
		Region:          "us-east-1",
		Bucket:          "test-pinvault-backups",
		KeyPrefix:       "test",
	})
	if err != nil {
		t.Fatalf("Failed to create S3 sink: %v", err)
	}

	data := []byte("PINVAULT/1.5\n{\"record_count\":2}")

	key, err := sink.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.HasPrefix(key, "test/backups/backup_") || !strings.HasSuffix(key, ".pvb") {
		t.Errorf("unexpected object key: %s", key)
	}

	got, err := sink.Read(key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read returned %q, want %q", got, data)
	}

	location, err := sink.Share(key)
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if !strings.Contains(location, "backup_") {
		t.Errorf("presigned URL does not reference the backup: %s", location)
	}

	picked, err := sink.Pick()
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if picked != key {
		t.Errorf("Pick returned %s, want %s", picked, key)
	}

	keys, err := sink.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("List returned %v, want [%s]", keys, key)
	}

	if err = sink.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err = sink.Pick(); err != pinvault.ErrCancelled {
		t.Errorf("Pick on empty bucket returned %v, want ErrCancelled", err)
	}
}

func parseEndpoint(endpointURL string) (string, bool) {
	endpoint := strings.TrimPrefix(endpointURL, "http://")
	useSSL := false

	if strings.HasPrefix(endpointURL, "https://") {
		endpoint = strings.TrimPrefix(endpointURL, "https://")
		useSSL = true
	}

	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}

	return endpoint, useSSL
}
