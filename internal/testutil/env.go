package testutil

import (
	"fmt"
	"net"
	"os"
	"testing"
)

// RequireDocker skips the test unless DIALECTIC_TEST_DOCKER is set.
// Datastore integration tests need a running Docker daemon.
func RequireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("DIALECTIC_TEST_DOCKER") == "" {
		t.Skip("set DIALECTIC_TEST_DOCKER to run Docker-backed tests")
	}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
