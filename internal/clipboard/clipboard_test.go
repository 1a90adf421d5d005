package clipboard

import (
	"sync"
	"testing"
	"time"
)

type fakeBoard struct {
	mu   sync.Mutex
	text string
}

func (f *fakeBoard) WriteAll(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	return nil
}

func (f *fakeBoard) ReadAll() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func useFake(t *testing.T) *fakeBoard {
	t.Helper()
	fake := &fakeBoard{}
	prev := board
	board = fake
	t.Cleanup(func() { board = prev })
	return fake
}

func TestCopyWithTimeoutClears(t *testing.T) {
	fake := useFake(t)

	done, err := CopyWithTimeout("https://example.com/krugerrand", 10*time.Millisecond)
	if err != nil {
		t.Skipf("clipboard not supported here: %v", err)
	}
	if got, _ := fake.ReadAll(); got != "https://example.com/krugerrand" {
		t.Fatalf("clipboard = %q", got)
	}

	<-done
	if got, _ := fake.ReadAll(); got != "" {
		t.Fatalf("clipboard not cleared: %q", got)
	}
}

func TestCopyWithTimeoutKeepsNewerContent(t *testing.T) {
	fake := useFake(t)

	done, err := CopyWithTimeout("first", 20*time.Millisecond)
	if err != nil {
		t.Skipf("clipboard not supported here: %v", err)
	}
	_ = fake.WriteAll("second")

	<-done
	if got, _ := fake.ReadAll(); got != "second" {
		t.Fatalf("clipboard = %q, want newer content kept", got)
	}
}

func TestClear(t *testing.T) {
	fake := useFake(t)
	_ = fake.WriteAll("x")

	if err := Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := fake.ReadAll(); got != "" {
		t.Fatalf("clipboard = %q", got)
	}
}
