package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.DefaultSampleRate != 44100 || cfg.DefaultChannels != 1 || cfg.DefaultFormat != "wav" {
		t.Errorf("audio defaults = %d/%d/%q", cfg.DefaultSampleRate, cfg.DefaultChannels, cfg.DefaultFormat)
	}
	if cfg.MaxChunkSizeBytes != 10<<20 {
		t.Errorf("MaxChunkSizeBytes = %d", cfg.MaxChunkSizeBytes)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if !cfg.AutoCleanup {
		t.Error("AutoCleanup should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DEFAULT_SAMPLE_RATE", "16000")
	t.Setenv("AUTO_CLEANUP", "false")
	t.Setenv("WS_IDLE_TIMEOUT", "30s")
	t.Setenv("TRANSCRIPT_TTL", "1h")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.DefaultSampleRate != 16000 {
		t.Errorf("DefaultSampleRate = %d", cfg.DefaultSampleRate)
	}
	if cfg.AutoCleanup {
		t.Error("AutoCleanup override ignored")
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.TranscriptTTL != time.Hour {
		t.Errorf("TranscriptTTL = %v", cfg.TranscriptTTL)
	}
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("DEFAULT_SAMPLE_RATE", "not-a-number")
	t.Setenv("WS_IDLE_TIMEOUT", "soon")

	cfg := Load()
	if cfg.DefaultSampleRate != 44100 {
		t.Errorf("DefaultSampleRate = %d, want default", cfg.DefaultSampleRate)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want default", cfg.IdleTimeout)
	}
}
