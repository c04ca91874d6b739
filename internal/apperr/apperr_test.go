package apperr

import (
	"errors"
	"fmt"
	"testing"
)

var errBackend = errors.New("backend down")

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(DocumentAdd, "adding", nil, nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	err := Wrap(DocumentAdd, "adding document", fmt.Errorf("upsert: %w", errBackend), map[string]any{"documentId": "d1"})

	if !errors.Is(err, errBackend) {
		t.Error("errors.Is should find the wrapped sentinel")
	}
	if CodeOf(err) != DocumentAdd {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), DocumentAdd)
	}
	if DetailsOf(err)["documentId"] != "d1" {
		t.Errorf("details = %v, want documentId d1", DetailsOf(err))
	}
}

func TestWrap_InnermostCodeWins(t *testing.T) {
	inner := New(ChunkDelete, "deleting chunks", errBackend, nil)
	outer := Wrap(DocumentUpdate, "updating", fmt.Errorf("replace: %w", inner), nil)

	if !Is(outer, ChunkDelete) {
		t.Errorf("CodeOf = %q, want %q", CodeOf(outer), ChunkDelete)
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	if c := CodeOf(errBackend); c != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", c)
	}
	if Is(nil, DocumentAdd) {
		t.Error("Is(nil) should be false")
	}
}

func TestError_Message(t *testing.T) {
	err := New(UnsupportedProvider, "unknown provider \"foo\"", nil, nil)
	want := `UNSUPPORTED_PROVIDER: unknown provider "foo"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
