package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianly1003/devtap/internal/domain"
)

func TestLatestConversationID_EmptyRoot(t *testing.T) {
	s := NewStore("")
	defer func() { _ = s.Close() }()

	_, err := s.LatestConversationID()
	if !errors.Is(err, domain.ErrNoConversation) {
		t.Errorf("LatestConversationID() error = %v, want ErrNoConversation", err)
	}
}

func TestLatestConversationID_NoDirectories(t *testing.T) {
	root := t.TempDir()
	// Plain files under the root are not conversations.
	if err := os.WriteFile(filepath.Join(root, "index.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	defer func() { _ = s.Close() }()

	_, err := s.LatestConversationID()
	if !errors.Is(err, domain.ErrNoConversation) {
		t.Errorf("LatestConversationID() error = %v, want ErrNoConversation", err)
	}
}

func TestLatestConversationID_PicksNewest(t *testing.T) {
	root := t.TempDir()
	older := filepath.Join(root, "conv-old")
	newer := filepath.Join(root, "conv-new")
	for _, dir := range []string{older, newer} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	defer func() { _ = s.Close() }()

	id, err := s.LatestConversationID()
	if err != nil {
		t.Fatalf("LatestConversationID() error = %v", err)
	}
	if id != "conv-new" {
		t.Errorf("LatestConversationID() = %q, want conv-new", id)
	}
}

func TestLatestConversationID_CacheInvalidation(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "conv-1"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Backdate conv-1 so conv-2's mtime is strictly newer even on
	// filesystems with coarse timestamp granularity.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(root, "conv-1"), past, past); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	defer func() { _ = s.Close() }()

	id, err := s.LatestConversationID()
	if err != nil {
		t.Fatalf("LatestConversationID() error = %v", err)
	}
	if id != "conv-1" {
		t.Fatalf("LatestConversationID() = %q, want conv-1", id)
	}

	// A new conversation directory must eventually surface. The watcher
	// invalidates the cache asynchronously, so poll.
	if err := os.Mkdir(filepath.Join(root, "conv-2"), 0o755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		id, err = s.LatestConversationID()
		if err == nil && id == "conv-2" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("LatestConversationID() = %q, %v; want conv-2", id, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLatestConversationID_MissingRootDirectory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	defer func() { _ = s.Close() }()

	if _, err := s.LatestConversationID(); err == nil {
		t.Error("LatestConversationID() on a missing root should fail")
	}
}
