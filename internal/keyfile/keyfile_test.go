package keyfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/depotgrab/depotgrab/internal/resolver"
)

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job-1")
	tasks := []resolver.DepotTask{
		{DepotID: "101", ManifestID: "m101", DepotKey: "aabb"},
		{DepotID: "102", ManifestID: "", DepotKey: "ccdd"},
		{DepotID: "103", ManifestID: "m103", DepotKey: ""}, // no key, skipped
	}

	path, err := Write(dir, tasks)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Errorf("path = %q, want file named %s", path, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "101;m101;aabb\n102;;ccdd\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := Write(dir, nil); err != nil {
		t.Fatalf("Write into missing directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("key file not created: %v", err)
	}
}

func TestWriteUnwritableDirIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission checks do not apply")
	}
	parent := t.TempDir()
	if err := os.Chmod(parent, 0555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(parent, 0755)

	if _, err := Write(filepath.Join(parent, "sub"), nil); err == nil {
		t.Error("expected error for unwritable directory")
	}
}
