package store

import (
	"context"
	"testing"
	"time"
)

func TestDockerManagerDefaults(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{})
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer mgr.Close()

	if mgr.name != DefaultContainerName {
		t.Errorf("container name = %q, want %q", mgr.name, DefaultContainerName)
	}
	if mgr.cfg.Image != DefaultImage {
		t.Errorf("image = %q, want %q", mgr.cfg.Image, DefaultImage)
	}
	if mgr.cfg.DataVolume != DefaultDataVolume {
		t.Errorf("data volume = %q, want %q", mgr.cfg.DataVolume, DefaultDataVolume)
	}
	if got := mgr.URL(); got != "http://localhost:"+DefaultPort {
		t.Errorf("URL = %q", got)
	}
}

func TestDockerManagerConfigOverrides(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{
		ContainerName: "custom-store",
		HostPort:      "9999",
	})
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer mgr.Close()

	if mgr.name != "custom-store" {
		t.Errorf("container name = %q", mgr.name)
	}
	if got := mgr.URL(); got != "http://localhost:9999" {
		t.Errorf("URL = %q", got)
	}
}

func TestDockerManagerHealthProbeHonorsContext(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{HostPort: "59999"})
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.awaitHealthy(ctx, time.Second); err == nil {
		t.Error("expected error when the context is already cancelled")
	}
}
