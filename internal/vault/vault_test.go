package vault

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestAdminTokenLifecycle(t *testing.T) {
	v := New(t.TempDir())

	if v.AdminExists() {
		t.Error("fresh vault should have no admin token")
	}
	if v.VerifyAdminToken("anything") {
		t.Error("verification must fail with no stored token")
	}

	if err := v.SetAdminToken("hunter2"); err != nil {
		t.Fatalf("SetAdminToken failed: %v", err)
	}
	if !v.AdminExists() {
		t.Error("admin token should exist after set")
	}
	if !v.VerifyAdminToken("hunter2") {
		t.Error("correct token must verify")
	}
	if v.VerifyAdminToken("wrong") {
		t.Error("wrong token must not verify")
	}
}

func TestAdminTokenNotStoredInPlaintext(t *testing.T) {
	root := t.TempDir()
	v := New(root)
	if err := v.SetAdminToken("super-secret-token"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".kylo", "secure", "admin.tok"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "super-secret-token") {
		t.Error("admin token must not be stored in plaintext")
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	v := New(t.TempDir())

	if err := v.StoreAPIKey("gemini", "AIza-example-key"); err != nil {
		t.Fatalf("StoreAPIKey failed: %v", err)
	}
	if err := v.StoreAPIKey("openai", "sk-other"); err != nil {
		t.Fatal(err)
	}

	key, err := v.GetAPIKey("gemini")
	if err != nil {
		t.Fatalf("GetAPIKey failed: %v", err)
	}
	if key != "AIza-example-key" {
		t.Errorf("unexpected key: %s", key)
	}

	names, err := v.ListKeys()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"gemini", "openai"}) {
		t.Errorf("unexpected services: %v", names)
	}
}

func TestAPIKeyEncryptedAtRest(t *testing.T) {
	root := t.TempDir()
	v := New(root)
	if err := v.StoreAPIKey("gemini", "AIza-very-secret"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".kylo", "secure", "keys.enc"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "AIza-very-secret") {
		t.Error("API key must be encrypted at rest")
	}
}

func TestRemoveAPIKey(t *testing.T) {
	v := New(t.TempDir())
	if err := v.StoreAPIKey("gemini", "k"); err != nil {
		t.Fatal(err)
	}

	removed, err := v.RemoveAPIKey("gemini")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	removed, err = v.RemoveAPIKey("gemini")
	if err != nil || removed {
		t.Errorf("second removal should report nothing stored, got removed=%v err=%v", removed, err)
	}
}

func TestStoreOverwrites(t *testing.T) {
	v := New(t.TempDir())
	v.StoreAPIKey("gemini", "old")
	v.StoreAPIKey("gemini", "new")

	key, err := v.GetAPIKey("gemini")
	if err != nil {
		t.Fatal(err)
	}
	if key != "new" {
		t.Errorf("expected overwritten key, got %s", key)
	}
}
