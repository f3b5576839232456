package config

import "testing"

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidate_RejectsDuplicateStratumPorts(t *testing.T) {
	cfg := Default()
	cfg.Instances = append(cfg.Instances, cfg.Instances[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate stratum_port")
	}
}

func TestValidate_RejectsMissingKaspadAddress(t *testing.T) {
	cfg := Default()
	cfg.Global.KaspadAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty kaspad_address")
	}
}

func TestValidate_RejectsNoInstances(t *testing.T) {
	cfg := Default()
	cfg.Instances = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero instances")
	}
}

func TestSharesPerMinFor_OverrideWins(t *testing.T) {
	cfg := Default()
	override := 42.0
	cfg.Instances[0].SharesPerMin = &override

	if got := cfg.Global.SharesPerMinFor(cfg.Instances[0]); got != 42.0 {
		t.Fatalf("expected override 42, got %v", got)
	}
}

func TestLoad_MissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/to/config.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Global.KaspadAddress != Default().Global.KaspadAddress {
		t.Fatal("expected defaults when config path is missing")
	}
}
