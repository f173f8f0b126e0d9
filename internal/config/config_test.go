package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.Port != "8080" || cfg.StorageBackend != "fs" || cfg.CacheDir == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	cfg := defaults()
	t.Setenv("PORT", "9999")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("MAX_IMAGE_SIZE_BYTES", "123456")
	t.Setenv("API_KEYS_ENABLED", "true")

	applyEnv(&cfg)

	if cfg.Port != "9999" {
		t.Fatalf("expected PORT override, got %q", cfg.Port)
	}
	if cfg.StorageBackend != "s3" {
		t.Fatalf("expected STORAGE_BACKEND override, got %q", cfg.StorageBackend)
	}
	if cfg.MaxImageSizeBytes != 123456 {
		t.Fatalf("expected MAX_IMAGE_SIZE_BYTES override, got %d", cfg.MaxImageSizeBytes)
	}
	if !cfg.APIKeysEnabled {
		t.Fatalf("expected API_KEYS_ENABLED=true to parse as true")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := defaults()
	cfg.StorageBackend = "ftp"
	cfg.AllowedDomains = "example.com"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected an error for an unknown storage backend")
	}
}

func TestValidateRequiresAllowedDomains(t *testing.T) {
	cfg := defaults()
	if err := validate(cfg); err == nil {
		t.Fatalf("expected an error when AllowedDomains is empty")
	}
}

func TestValidateRequiresS3CredentialsForS3Backend(t *testing.T) {
	cfg := defaults()
	cfg.StorageBackend = "s3"
	cfg.AllowedDomains = "example.com"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected an error when s3 backend is missing credentials")
	}
	cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey = "bucket", "key", "secret"
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error once s3 credentials are set: %v", err)
	}
}

func TestValidateAcceptsFsBackendWithCacheDir(t *testing.T) {
	cfg := defaults()
	cfg.AllowedDomains = "example.com"
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
