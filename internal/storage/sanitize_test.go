package storage

import "testing"

func TestSanitizeNameStripsUnsafeCharacters(t *testing.T) {
	got := SanitizeName("../../etc/passwd", 0)
	if got != "0-etcpasswd" {
		t.Fatalf("SanitizeName() = %q, want %q", got, "0-etcpasswd")
	}
}

func TestSanitizeNameRejectsLeadingDot(t *testing.T) {
	got := SanitizeName("...hidden.pdf", 3)
	if got != "3-hidden.pdf" {
		t.Fatalf("SanitizeName() = %q, want %q", got, "3-hidden.pdf")
	}
}

func TestSanitizeNameDefaultsWhenEmpty(t *testing.T) {
	got := SanitizeName("###", 1)
	if got != "1-file" {
		t.Fatalf("SanitizeName() = %q, want %q", got, "1-file")
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := SanitizeName(long, 0)
	if len(got) > maxNameBytes {
		t.Fatalf("SanitizeName() length = %d, want <= %d", len(got), maxNameBytes)
	}
}

func TestSanitizeNamePrefixesOrdinal(t *testing.T) {
	got := SanitizeName("invoice.pdf", 42)
	if got != "42-invoice.pdf" {
		t.Fatalf("SanitizeName() = %q, want %q", got, "42-invoice.pdf")
	}
}
