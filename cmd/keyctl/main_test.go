package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"key-provisioning-service/internal/domain"
)

// runCmd はフラグ状態を初期化してkeyctlを実行する。
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	apiURL, output = "", "text"

	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/keys/symmetric", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"symmetric","key":"00ff"}`))
	})
	mux.HandleFunc("/v1/keys/public", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("format") == "ssh" {
			w.Write([]byte(`{"name":"public","format":"ssh","key":"ssh-rsa AAAAB3NzaC1yc2E"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"KEY_NOT_FOUND","message":"key has not been provisioned"}`))
	})
	mux.HandleFunc("/v1/provisioning/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"runs":[{"id":"run-1","status":"succeeded","rsa_bits":2048,"escrowed":false,"started_at":"2026-10-18T09:00:00Z"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetCmd_Text(t *testing.T) {
	srv := newTestAPI(t)

	out, err := runCmd(t, "get", "--key", "symmetric", "--api-url", srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.TrimSpace(out) != "00ff" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGetCmd_NotFound(t *testing.T) {
	srv := newTestAPI(t)

	_, err := runCmd(t, "get", "--key", "public", "--api-url", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "key has not been provisioned") {
		t.Errorf("expected API error message, got %v", err)
	}
}

func TestGetCmd_SSHFormat(t *testing.T) {
	srv := newTestAPI(t)

	out, err := runCmd(t, "get", "--key", "public", "--format", "ssh", "--api-url", srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.TrimSpace(out) != "ssh-rsa AAAAB3NzaC1yc2E" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGetCmd_FormatOnlyForPublicKey(t *testing.T) {
	srv := newTestAPI(t)

	if _, err := runCmd(t, "get", "--key", "symmetric", "--format", "ssh", "--api-url", srv.URL); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetCmd_RejectsPrivateKey(t *testing.T) {
	srv := newTestAPI(t)

	if _, err := runCmd(t, "get", "--key", "private", "--api-url", srv.URL); err == nil {
		t.Error("expected error for private key, got nil")
	}
}

func TestGetCmd_RequiresAPIURL(t *testing.T) {
	t.Setenv("KEYCTL_API_URL", "")

	if _, err := runCmd(t, "get", "--key", "symmetric"); err == nil {
		t.Error("expected error without API URL, got nil")
	}
}

func TestRunsCmd_Table(t *testing.T) {
	srv := newTestAPI(t)
	t.Setenv("KEYCTL_API_URL", srv.URL)

	out, err := runCmd(t, "runs", "--limit", "3")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out, "run-1") || !strings.Contains(out, "succeeded") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestProvisionCmd(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite:"+filepath.Join(root, "ledger.db"))
	t.Setenv("KMS_KEY_NAME", "")

	out, err := runCmd(t, "provision", "--root", root, "--bits", "1024")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if !strings.Contains(out, "Provisioned workspace") || !strings.Contains(out, "SHA256:") {
		t.Errorf("unexpected output %q", out)
	}

	pc := domain.DefaultProvisioningConfig(root)
	for _, p := range []string{pc.SymmetricKeyPath(), pc.PrivateKeyPath(), pc.PublicKeyPath()} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
		if info.Size() == 0 {
			t.Errorf("expected %s to be non-empty", p)
		}
	}
}

func TestProvisionCmd_InvalidBits(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KMS_KEY_NAME", "")

	_, err := runCmd(t, "provision", "--root", root, "--bits", "512")
	if err == nil || !strings.Contains(err.Error(), domain.ErrKeyPairGenerationFailed.Error()) {
		t.Errorf("expected key pair generation failure, got %v", err)
	}
}

func TestMigrateCmd_UpAndStatus(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:"+filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("MIGRATIONS_DIR", "")

	out, err := runCmd(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out, "Applied 2 migration(s)") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCmd(t, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status failed: %v", err)
	}
	if strings.Count(out, "applied") < 2 {
		t.Errorf("expected both migrations applied, got %q", out)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("unexpected output %q", out)
	}
}
