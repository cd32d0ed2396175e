package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("AUTO_THRESHOLD")
	os.Unsetenv("SUGGEST_THRESHOLD")
	os.Unsetenv("EMBEDDING_DIM")

	cfg := Load()

	if cfg.Matching.AutoThreshold != 0.85 {
		t.Errorf("expected default auto threshold 0.85, got %f", cfg.Matching.AutoThreshold)
	}
	if cfg.Matching.SuggestThreshold != 0.70 {
		t.Errorf("expected default suggest threshold 0.70, got %f", cfg.Matching.SuggestThreshold)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Cluster.MaxSetSize != 20000 {
		t.Errorf("expected default cluster ceiling 20000, got %d", cfg.Cluster.MaxSetSize)
	}
}

func TestLoad_CustomThresholds(t *testing.T) {
	t.Setenv("AUTO_THRESHOLD", "0.9")
	t.Setenv("SUGGEST_THRESHOLD", "0.6")

	cfg := Load()

	if cfg.Matching.AutoThreshold != 0.9 {
		t.Errorf("expected auto threshold 0.9, got %f", cfg.Matching.AutoThreshold)
	}
	if cfg.Matching.SuggestThreshold != 0.6 {
		t.Errorf("expected suggest threshold 0.6, got %f", cfg.Matching.SuggestThreshold)
	}
}

func TestLoad_InvalidFloatFallsBack(t *testing.T) {
	t.Setenv("AUTO_THRESHOLD", "not-a-number")

	cfg := Load()

	if cfg.Matching.AutoThreshold != 0.85 {
		t.Errorf("expected fallback auto threshold 0.85, got %f", cfg.Matching.AutoThreshold)
	}
}

func TestLoad_NegativeIntFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "-512")

	cfg := Load()

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected fallback embedding dim 512, got %d", cfg.Embedding.Dim)
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	tests := []struct {
		name    string
		auto    float64
		suggest float64
		wantErr bool
	}{
		{"valid ordering", 0.85, 0.70, false},
		{"equal thresholds", 0.80, 0.80, true},
		{"inverted thresholds", 0.70, 0.85, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.Matching.AutoThreshold = tt.auto
			cfg.Matching.SuggestThreshold = tt.suggest

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}

func TestValidate_MinCentroidFaces(t *testing.T) {
	cfg := Load()
	cfg.Matching.MinCentroidFaces = 1

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for min centroid faces below 2")
	}
}
