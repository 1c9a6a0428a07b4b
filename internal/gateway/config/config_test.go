package config

import (
	"testing"
	"time"
)

func TestLoadSessionConfig(t *testing.T) {
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("LOCK_TIMEOUT", "3")
	t.Setenv("POLL_TIMEOUT", "bogus")
	t.Setenv("GONE_SESSION_CAPACITY", "12")
	t.Setenv("RENDER_VERIFY", "true")

	got := loadSessionConfig()
	if got.TTL != 90*time.Second {
		t.Fatalf("TTL = %s", got.TTL)
	}
	if got.LockTimeout != 3*time.Second {
		t.Fatalf("LockTimeout = %s", got.LockTimeout)
	}
	if got.PollTimeout != 25*time.Second {
		t.Fatalf("PollTimeout = %s, want default", got.PollTimeout)
	}
	if got.GoneCapacity != 12 || !got.Verify || !got.WebSocket {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestLoadSnapshotConfig(t *testing.T) {
	t.Setenv("SNAPSHOT_S3_ENDPOINT", "")
	got := loadSnapshotConfig("prod", SnapshotConfig{})
	if got.Enabled {
		t.Fatalf("snapshot archive enabled without endpoint: %+v", got)
	}

	t.Setenv("SNAPSHOT_S3_ENDPOINT", "s3.example.com")
	t.Setenv("SNAPSHOT_S3_USE_SSL", "false")
	got = loadSnapshotConfig("prod", SnapshotConfig{})
	if !got.Enabled || got.UseSSL || got.Bucket != "wtcore-snapshots" || got.Region != "us-east-1" {
		t.Fatalf("unexpected config %+v", got)
	}

	got = loadSnapshotConfig("local", localConfig().Snapshot)
	if got.UseSSL || got.AccessKey == "" {
		t.Fatalf("unexpected local config %+v", got)
	}
}

func TestSnapshotCanUseS3(t *testing.T) {
	cfg := SnapshotConfig{Enabled: true, Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	if !cfg.CanUseS3() {
		t.Fatalf("expected complete config to be usable: %+v", cfg)
	}
	cfg.SecretKey = " "
	if cfg.CanUseS3() {
		t.Fatalf("expected missing secret to disable s3")
	}
	cfg = SnapshotConfig{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	if cfg.CanUseS3() {
		t.Fatalf("expected disabled config to be unusable")
	}
}
