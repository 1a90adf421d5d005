// Package clipboard copies export payloads and purchase links to the system
// clipboard and clears them again after a timeout.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard utility is installed.
var ErrUnavailable = errors.New("clipboard unavailable")

type backend interface {
	WriteAll(text string) error
	ReadAll() (string, error)
}

type system struct{}

func (system) WriteAll(text string) error { return clipboard.WriteAll(text) }
func (system) ReadAll() (string, error)   { return clipboard.ReadAll() }

var board backend = system{}

// Copy places text on the clipboard.
func Copy(text string) error {
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	if err := board.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// CopyWithTimeout copies text and clears the clipboard once timeout elapses,
// unless something else was copied in the meantime. The returned channel is
// closed after the clear attempt; a process that exits earlier leaves the
// text in place, so callers that must guarantee the clear wait on it.
func CopyWithTimeout(text string, timeout time.Duration) (<-chan struct{}, error) {
	if err := Copy(text); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(timeout)

		current, err := board.ReadAll()
		if err == nil && current == text {
			_ = board.WriteAll("")
		}
	}()

	return done, nil
}

// IsAvailable returns true if clipboard functionality is available
func IsAvailable() bool {
	if clipboard.Unsupported {
		return false
	}
	_, err := board.ReadAll()
	return err == nil
}

// Clear clears the clipboard
func Clear() error {
	return board.WriteAll("")
}
