package credentials

import (
	"path/filepath"
	"testing"

	"github.com/openpista/openpista/pkg/models"
)

func TestStore_MissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "credentials.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Provider) != 0 {
		t.Errorf("expected empty store, got %+v", s.Provider)
	}
}

func TestStore_SetGetRemoveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "credentials.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	cred := models.ProviderCredential{AccessToken: "tok_test", RefreshToken: "refresh_test"}
	if err := s.Set("openai", cred); err != nil {
		t.Fatal(err)
	}

	got, ok := s.Get("openai")
	if !ok || got.AccessToken != "tok_test" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	removed, err := s.Remove("openai")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("expected first Remove to report removed=true")
	}
	if _, ok := s.Get("openai"); ok {
		t.Error("expected credential to be gone after Remove")
	}

	removedAgain, err := s.Remove("openai")
	if err != nil {
		t.Fatal(err)
	}
	if removedAgain {
		t.Error("expected second Remove to report removed=false (idempotent logout)")
	}
}

func TestStore_SaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("openai", models.ProviderCredential{AccessToken: "sk-test", RefreshToken: "rt-test"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Get("openai")
	if !ok {
		t.Fatal("expected credential to survive reload from disk")
	}
	if got.AccessToken != "sk-test" || got.RefreshToken != "rt-test" {
		t.Errorf("reloaded credential = %+v", got)
	}
}

func TestStore_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "credentials.yaml")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("anthropic", models.ProviderCredential{AccessToken: "x"}); err != nil {
		t.Fatal(err)
	}
}
