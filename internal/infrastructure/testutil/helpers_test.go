package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "shot.png", PNG)

	if want := filepath.Join(dir, "shot.png"); path != want {
		t.Fatalf("WriteFile returned wrong path: got %s, want %s", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if len(data) != len(PNG) {
		t.Fatalf("file length = %d, want %d", len(data), len(PNG))
	}
}

func TestAssertCode(t *testing.T) {
	err := domainErrors.NewError(domainErrors.CodeRepository, "outer",
		domainErrors.NewError(domainErrors.CodeNotFound, "inner", nil))
	AssertCode(t, err, domainErrors.CodeNotFound)
	AssertCode(t, err, domainErrors.CodeRepository)
}

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertEqual(t, 42, 42)
	AssertEqual(t, "hello", "hello")
	AssertContains(t, []string{"a", "b", "c"}, "b")
}

func TestEventually(t *testing.T) {
	var done atomic.Bool
	go func() {
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
	}()
	Eventually(t, time.Second, done.Load)
}

func TestNewTestStore(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)
	repos := store.Repos()

	sess := NewTestSession("s1", BaseTime)
	AssertNoError(t, repos.Sessions.Create(ctx, sess))
	AssertNoError(t, repos.Notes.Create(ctx, NewTestNote("n1", "s1", BaseTime)))
	AssertNoError(t, repos.Images.Create(ctx, NewTestImage("i1", "s1", BaseTime)))

	img, err := repos.Images.Get(ctx, "i1")
	AssertNoError(t, err)
	AssertEqual(t, img.SizeBytes, int64(len(PNG)))
	if err := img.Validate(); err != nil {
		t.Fatalf("fixture image invalid: %v", err)
	}
}
