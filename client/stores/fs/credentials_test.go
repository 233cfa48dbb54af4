package fs

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/aptsend/vaultlink/client"
)

func newCredential(t *testing.T, passphrase string) *client.OwnerCredential {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	cred, err := client.NewOwnerCredential(key, []byte(passphrase))
	if err != nil {
		t.Fatalf("NewOwnerCredential() error = %v", err)
	}
	return cred
}

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.json")
	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	cred, err := store.GetCredential("http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Error("expected nil credential for unknown server")
	}

	want := newCredential(t, "pw")
	if err := store.SetCredential("http://localhost:8080", want); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	got, _ := store.GetCredential("http://localhost:8080")
	if got == nil || got.OwnerAddress != want.OwnerAddress {
		t.Errorf("GetCredential() = %+v, want owner %s", got, want.OwnerAddress)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "owners.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	store.SetCredential("http://localhost:8080/api/v1", newCredential(t, "pw"))

	for _, u := range []string{"http://localhost:8080", "http://localhost:8080/different/path"} {
		if cred, _ := store.GetCredential(u); cred == nil {
			t.Errorf("GetCredential(%q) = nil", u)
		}
	}
	if _, err := store.GetCredential("/relative"); err == nil {
		t.Error("GetCredential() without host should fail")
	}
}

func TestFSCredentialStore_RemoveCredential(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "owners.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	cred := newCredential(t, "pw")
	store.SetCredential("http://localhost:8080", cred)
	store.SetCredential("http://localhost:9090", cred)

	if err := store.RemoveCredential("http://localhost:8080"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if got, _ := store.GetCredential("http://localhost:8080"); got != nil {
		t.Error("credential should be removed")
	}
	if got, _ := store.GetCredential("http://localhost:9090"); got == nil {
		t.Error("other credential should still exist")
	}
}

func TestFSCredentialStore_ListServers(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "owners.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	cred := newCredential(t, "pw")
	store.SetCredential("https://example.com", cred)
	store.SetCredential("http://localhost:9090", cred)
	store.SetCredential("http://localhost:8080", cred)

	servers, err := store.ListServers()
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	want := []string{"http://localhost:8080", "http://localhost:9090", "https://example.com"}
	if len(servers) != len(want) {
		t.Fatalf("ListServers() = %v, want %v", servers, want)
	}
	for i := range want {
		if servers[i] != want[i] {
			t.Errorf("servers[%d] = %s, want %s", i, servers[i], want[i])
		}
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "owners.json")
	store1, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	cred := newCredential(t, "correct horse")
	store1.SetCredential("http://localhost:8080", cred)
	if err := store1.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("credentials file not created")
	}

	store2, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	got, err := store2.GetCredential("http://localhost:8080")
	if err != nil || got == nil {
		t.Fatalf("GetCredential() = %v, %v", got, err)
	}
	if got.OwnerAddress != cred.OwnerAddress {
		t.Errorf("OwnerAddress = %s, want %s", got.OwnerAddress, cred.OwnerAddress)
	}

	// the sealed key survives the round trip
	signer, err := got.Signer([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Signer() error = %v", err)
	}
	if signer.Address() != cred.OwnerAddress {
		t.Errorf("signer address = %s, want %s", signer.Address(), cred.OwnerAddress)
	}
	if _, err := got.Signer([]byte("wrong")); err == nil {
		t.Error("Signer() with the wrong passphrase should fail")
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.json")
	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	store.SetCredential("http://localhost:8080", newCredential(t, "pw"))
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("file permissions = %o, want 0600", mode)
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFSCredentialStore(path, ""); err == nil {
		t.Error("NewFSCredentialStore() should fail on a corrupt file")
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	store, err := NewFSCredentialStore("", "testapp")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	path := store.Path()
	if filepath.Base(path) != "owners.json" {
		t.Errorf("Path() = %s, want owners.json file", path)
	}
	if filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Logf("path = %s (app name dir may vary by platform)", path)
	}
}
