package vault

import (
	"errors"
	"testing"
)

const testPassword = "a-strong-password-for-testing!!"

func unlocked(t *testing.T) *Vault {
	t.Helper()
	v, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Unlock([]byte(testPassword)); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	return v
}

func TestVault_SetAndGet(t *testing.T) {
	v := unlocked(t)

	if err := v.Set("openai_api_key", "sk-test-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := v.Get("openai_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("Get = %q, want %q", got, "sk-test-123")
	}
}

func TestVault_GetNonExistent(t *testing.T) {
	v := unlocked(t)

	if _, err := v.Get("nonexistent"); err == nil {
		t.Error("expected error for nonexistent key")
	}
}

func TestVault_Delete(t *testing.T) {
	v := unlocked(t)

	if err := v.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v.Delete("k")

	if _, err := v.Get("k"); err == nil {
		t.Error("expected error after deletion")
	}
}

func TestVault_Keys(t *testing.T) {
	v := unlocked(t)
	_ = v.Set("a", "1")
	_ = v.Set("b", "2")

	if got := v.Keys(); len(got) != 2 {
		t.Errorf("Keys = %v, want 2 entries", got)
	}
}

func TestVault_ExportImportRoundTrip(t *testing.T) {
	v1 := unlocked(t)

	if err := v1.Set("anthropic_api_key", "sk-ant-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v1.Set("openai_api_key", "sk-oai-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	exported := v1.Export()

	v2, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v2.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}
	// Import re-locks: the derived key belongs to the new salt.
	if !v2.IsLocked() {
		t.Error("expected vault locked after import")
	}
	if err := v2.Unlock([]byte(testPassword)); err != nil {
		t.Fatalf("Unlock after import: %v", err)
	}

	got, err := v2.Get("anthropic_api_key")
	if err != nil || got != "sk-ant-1" {
		t.Errorf("anthropic_api_key: got %q err=%v", got, err)
	}
	got, err = v2.Get("openai_api_key")
	if err != nil || got != "sk-oai-2" {
		t.Errorf("openai_api_key: got %q err=%v", got, err)
	}
}

func TestVault_ImportWrongPassword(t *testing.T) {
	v1 := unlocked(t)
	if err := v1.Set("k", "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v2, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v2.Import(v1.Export()); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := v2.Unlock([]byte("different-password!")); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if _, err := v2.Get("k"); err == nil {
		t.Error("expected decryption failure with wrong password")
	}
}

func TestVault_ImportBadSalt(t *testing.T) {
	v, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Import(Snapshot{Salt: "!!!not-base64!!!"}); err == nil {
		t.Error("expected error for undecodable salt")
	}
	if err := v.Import(Snapshot{Salt: "c2hvcnQ="}); err == nil {
		t.Error("expected error for wrong-size salt")
	}
}

func TestVault_LockedOperationsFail(t *testing.T) {
	v, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Vault starts locked; operations should fail.
	if _, err := v.Encrypt([]byte("test")); !errors.Is(err, ErrLocked) {
		t.Errorf("Encrypt while locked: %v", err)
	}
	if _, err := v.Decrypt([]byte("test")); !errors.Is(err, ErrLocked) {
		t.Errorf("Decrypt while locked: %v", err)
	}
	if err := v.Set("k", "v"); !errors.Is(err, ErrLocked) {
		t.Errorf("Set while locked: %v", err)
	}
}

func TestVault_UnlockPasswordTooShort(t *testing.T) {
	v, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := v.Unlock([]byte("short")); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestVault_LockClearsKey(t *testing.T) {
	v := unlocked(t)

	if err := v.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v.Lock()

	if !v.IsLocked() {
		t.Error("expected vault to be locked after Lock()")
	}
	if _, err := v.Get("k"); err == nil {
		t.Error("expected Get to fail after Lock()")
	}

	// Same password restores access to existing ciphertexts.
	if err := v.Unlock([]byte(testPassword)); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := v.Get("k")
	if err != nil || got != "v" {
		t.Errorf("after relock cycle: got %q err=%v", got, err)
	}
}

func TestVault_DisabledNeedsNoUnlock(t *testing.T) {
	v, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v.IsLocked() {
		t.Error("disabled vault should not report locked")
	}
	if err := v.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get("k")
	if err != nil || got != "v" {
		t.Errorf("got %q err=%v", got, err)
	}
}
