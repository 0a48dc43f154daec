package keyring

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestPasswordLifecycle(t *testing.T) {
	keyring.MockInit()
	const vaultID = "0123abcd"

	if HasPassword(vaultID) {
		t.Fatal("Expected no stored password")
	}
	if _, err := GetPassword(vaultID); !errors.Is(err, ErrNotStored) {
		t.Fatalf("Expected ErrNotStored, got %v", err)
	}

	if err := SavePassword(vaultID, []byte("hunter2")); err != nil {
		t.Fatalf("SavePassword failed: %v", err)
	}
	got, err := GetPassword(vaultID)
	if err != nil {
		t.Fatalf("GetPassword failed: %v", err)
	}
	if string(got) != "hunter2" {
		t.Errorf("Expected stored password, got %q", got)
	}
	if HasPassword("other") {
		t.Error("Password leaked to another vault id")
	}

	if err := DeletePassword(vaultID); err != nil {
		t.Fatalf("DeletePassword failed: %v", err)
	}
	if err := DeletePassword(vaultID); !errors.Is(err, ErrNotStored) {
		t.Errorf("Expected ErrNotStored on second delete, got %v", err)
	}
}
