package internal

import (
	"bytes"
	"errors"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestCodeGeneratorProducesDigitsOfFixedLength(t *testing.T) {
	for _, digits := range []int{4, 6, 8, 10} {
		gen, err := NewCodeGenerator(digits)
		if err != nil {
			t.Fatalf("NewCodeGenerator(%d): %v", digits, err)
		}
		for i := 0; i < 50; i++ {
			code, err := gen.Generate()
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(code) != digits {
				t.Fatalf("expected %d digits, got %q", digits, code)
			}
			for _, c := range code {
				if c < '0' || c > '9' {
					t.Fatalf("non-digit in code %q", code)
				}
			}
		}
	}
}

func TestCodeGeneratorRejectsBadLength(t *testing.T) {
	if _, err := NewCodeGenerator(3); err == nil {
		t.Fatal("expected error for 3 digits")
	}
	if _, err := NewCodeGenerator(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestCodeGeneratorEntropyFailure(t *testing.T) {
	gen := &CodeGenerator{Digits: 6, Reader: failingReader{}}
	if _, err := gen.Generate(); !errors.Is(err, ErrEntropyUnavailable) {
		t.Fatalf("expected ErrEntropyUnavailable, got %v", err)
	}
}

func TestCodeGeneratorDeterministicReader(t *testing.T) {
	gen := &CodeGenerator{Digits: 6, Reader: bytes.NewReader(bytes.Repeat([]byte{0}, 64))}
	code, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code != "000000" {
		t.Fatalf("expected zero code from zero reader, got %q", code)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ana@X.com "); got != "ana@x.com" {
		t.Fatalf("unexpected normalized email %q", got)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	if a == b || a == "" {
		t.Fatalf("expected distinct ids, got %q %q", a, b)
	}
}
