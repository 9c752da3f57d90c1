//Package storetest verifies filestore.Store implementations behave the way an
// emulated block device expects
package storetest

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"sort"
	"testing"

	"github.com/tarndt/emubd/pkg/filestore"
)

//TestStore runs the conformance checks against an empty store
func TestStore(t *testing.T, store filestore.Store) {
	t.Run("missing", func(t *testing.T) { testMissing(t, store) })
	t.Run("create", func(t *testing.T) { testCreate(t, store) })
	t.Run("update", func(t *testing.T) { testUpdate(t, store) })
	t.Run("remove", func(t *testing.T) { testRemove(t, store) })
	t.Run("list", func(t *testing.T) { testList(t, store) })
	t.Run("names", func(t *testing.T) { testNames(t, store) })
	if store.Describe() == "" {
		t.Fatalf("Store has no description")
	}
}

//WriteFile replaces name with data failing the test on error
func WriteFile(t *testing.T, store filestore.Store, name string, data []byte) {
	t.Helper()

	f, err := store.Create(name)
	if err != nil {
		t.Fatalf("Could not create %q: %s", name, err)
	}
	if _, err = f.WriteAt(data, 0); err != nil {
		t.Fatalf("Could not write %q: %s", name, err)
	}
	if err = f.Close(); err != nil {
		t.Fatalf("Could not close %q: %s", name, err)
	}
}

//ReadFile returns the contents of name failing the test on error
func ReadFile(t *testing.T, store filestore.Store, name string) []byte {
	t.Helper()

	info, err := store.Stat(name)
	if err != nil {
		t.Fatalf("Could not stat %q: %s", name, err)
	}
	f, err := store.Open(name)
	if err != nil {
		t.Fatalf("Could not open %q: %s", name, err)
	}
	defer f.Close()

	//stat sizes may be of an encoded object so read until EOF
	var out bytes.Buffer
	buf := make([]byte, 64)
	for pos := int64(0); ; {
		n, err := f.ReadAt(buf, pos)
		out.Write(buf[:n])
		pos += int64(n)
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Could not read %q (%d bytes) at %d: %s", name, info.Size(), pos, err)
		}
	}
	return out.Bytes()
}

func expectNotExist(t *testing.T, err error, desc string) {
	t.Helper()

	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Expected %s to report a missing artifact, got: %v", desc, err)
	}
}

func testMissing(t *testing.T, store filestore.Store) {
	_, err := store.Open("absent")
	expectNotExist(t, err, "open")
	_, err = store.Stat("absent")
	expectNotExist(t, err, "stat")
	expectNotExist(t, store.Remove("absent"), "remove")
}

func testCreate(t *testing.T, store filestore.Store) {
	WriteFile(t, store, "created", []byte("first contents"))
	WriteFile(t, store, "created", []byte("second"))
	if data := ReadFile(t, store, "created"); string(data) != "second" {
		t.Fatalf("Create did not truncate prior contents, found %q", data)
	}

	info, err := store.Stat("created")
	switch {
	case err != nil:
		t.Fatalf("Could not stat created artifact: %s", err)
	case !info.Mode().IsRegular():
		t.Fatalf("Created artifact was not regular: %s", info.Mode())
	}

	f, err := store.Open("created")
	if err != nil {
		t.Fatalf("Could not open created artifact: %s", err)
	}
	buf := make([]byte, 4)
	if n, err := f.ReadAt(buf, 4); n != 2 || err != io.EOF {
		t.Fatalf("Short read returned %d bytes and %v rather than 2 bytes and EOF", n, err)
	}
	if n, err := f.ReadAt(buf, 100); n != 0 || err != io.EOF {
		t.Fatalf("Read past end returned %d bytes and %v rather than EOF", n, err)
	}
	if err = f.Close(); err != nil {
		t.Fatalf("Could not close created artifact: %s", err)
	}
}

func testUpdate(t *testing.T, store filestore.Store) {
	f, err := store.OpenUpdate("updated")
	if err != nil {
		t.Fatalf("Could not open absent artifact for update: %s", err)
	}
	if _, err = f.WriteAt([]byte("abcdef"), 0); err != nil {
		t.Fatalf("Could not write new artifact: %s", err)
	}
	if err = f.Close(); err != nil {
		t.Fatalf("Could not close new artifact: %s", err)
	}

	if f, err = store.OpenUpdate("updated"); err != nil {
		t.Fatalf("Could not open existing artifact for update: %s", err)
	}
	if _, err = f.WriteAt([]byte("XY"), 2); err != nil {
		t.Fatalf("Could not write existing artifact: %s", err)
	}
	if _, err = f.WriteAt([]byte("Z"), 8); err != nil {
		t.Fatalf("Could not extend existing artifact: %s", err)
	}
	if err = f.Close(); err != nil {
		t.Fatalf("Could not close existing artifact: %s", err)
	}

	if data := ReadFile(t, store, "updated"); !bytes.Equal(data, []byte("abXYef\x00\x00Z")) {
		t.Fatalf("Update did not preserve contents, found %q", data)
	}
}

func testRemove(t *testing.T, store filestore.Store) {
	WriteFile(t, store, "removed", []byte("bye"))
	if err := store.Remove("removed"); err != nil {
		t.Fatalf("Could not remove artifact: %s", err)
	}
	_, err := store.Stat("removed")
	expectNotExist(t, err, "stat after remove")
}

func testList(t *testing.T, store filestore.Store) {
	names, err := store.List()
	if err != nil {
		t.Fatalf("Could not list store: %s", err)
	}
	sort.Strings(names)
	if expected := []string{"created", "updated"}; !equalStrings(names, expected) {
		t.Fatalf("Store listed %v rather than %v", names, expected)
	}
}

func testNames(t *testing.T, store filestore.Store) {
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := store.Create(name); !errors.Is(err, fs.ErrInvalid) {
			t.Fatalf("Expected name %q to be rejected, got: %v", name, err)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
