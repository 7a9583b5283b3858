package config

import (
	"strings"
	"testing"
)

func TestValidate_AllValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty config")
	}

	errStr := err.Error()
	expected := []string{
		"buffer.num_buffers must be positive",
		"buffer.buffer_size must be positive",
		"control.listen_addr is required",
	}
	for _, e := range expected {
		if !strings.Contains(errStr, e) {
			t.Errorf("Validate() error %q missing expected message: %q", errStr, e)
		}
	}
}

func TestValidate_DefaultsApplied(t *testing.T) {
	cfg := &Config{
		Buffer:  BufferConfig{NumBuffers: 8, BufferSize: 1024},
		Control: ControlPlaneConfig{ListenAddr: ":0"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Runtime.NumWorkerThreads != 1 {
		t.Errorf("expected default worker threads 1, got %d", cfg.Runtime.NumWorkerThreads)
	}
	if cfg.Runtime.TaskQueueDepth != 64 {
		t.Errorf("expected default task queue depth 64, got %d", cfg.Runtime.TaskQueueDepth)
	}
	if cfg.Shredder.RingWidth != 1024 {
		t.Errorf("expected default ring width 1024, got %d", cfg.Shredder.RingWidth)
	}
	if cfg.Control.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Control.RetryAttempts)
	}
}

func TestValidate_PartialMissing(t *testing.T) {
	cfg := &Config{
		Buffer:  BufferConfig{NumBuffers: 8},
		Control: ControlPlaneConfig{ListenAddr: ":0"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing buffer size")
	}
	if !strings.Contains(err.Error(), "buffer.buffer_size must be positive") {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Contains(err.Error(), "num_buffers") {
		t.Errorf("should not have num_buffers error: %v", err)
	}
}
