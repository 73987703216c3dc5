package helper

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	if err != nil {
		t.Fatalf("GenerateUUID: %v", err)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("GenerateUUID returned unparseable id %q: %v", a, err)
	}
	b, err := GenerateUUID()
	if err != nil {
		t.Fatalf("GenerateUUID: %v", err)
	}
	if a == b {
		t.Error("two generated ids collided")
	}
}

func TestNewDocumentID(t *testing.T) {
	id, err := NewDocumentID()
	if err != nil {
		t.Fatalf("NewDocumentID: %v", err)
	}
	if !strings.HasPrefix(id, "doc_") || len(id) != len("doc_")+12 {
		t.Fatalf("id = %q, want doc_ prefix and 12 hex chars", id)
	}
	for _, r := range id[len("doc_"):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("id %q contains non-hex rune %q", id, r)
		}
	}
}
