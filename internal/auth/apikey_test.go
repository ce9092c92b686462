package auth

import "testing"

func TestAPIKeyStoreAuthenticate(t *testing.T) {
	store := NewAPIKeyStore([]string{"raw-key-1", "svc-a:raw-key-2", "  ", ""})

	service, ok := store.Authenticate("raw-key-1")
	if !ok || service != "" {
		t.Fatalf("expected unlabeled key to match with empty service, got ok=%v service=%q", ok, service)
	}

	service, ok = store.Authenticate("raw-key-2")
	if !ok || service != "svc-a" {
		t.Fatalf("expected labeled key to match with service=svc-a, got ok=%v service=%q", ok, service)
	}

	if _, ok := store.Authenticate("wrong-key"); ok {
		t.Fatal("expected unknown key to fail")
	}
	if _, ok := store.Authenticate(""); ok {
		t.Fatal("expected empty key to fail")
	}
}

func TestAPIKeyStoreEmpty(t *testing.T) {
	store := NewAPIKeyStore(nil)
	if !store.Empty() {
		t.Fatal("expected empty store")
	}
	store = NewAPIKeyStore([]string{"k"})
	if store.Empty() {
		t.Fatal("expected non-empty store")
	}
}
