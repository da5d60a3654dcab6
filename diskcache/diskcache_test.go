package diskcache

import (
	"os"
	"testing"

	"github.com/rfc9111/httpcache/test"
)

func TestBackend(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "httpcache")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	test.Backend(t, New(tempDir))
}

func TestBackendConcurrentUpdate(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "httpcache")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	test.ConcurrentUpdate(t, New(tempDir), 25)
}
