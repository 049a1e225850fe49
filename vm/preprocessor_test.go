package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefineSubstitutionIsWordBounded(t *testing.T) {
	pre := NewPreprocessor("")
	src := "#define NUM1 7\nICARGA R4, NUM1\nICARGA R5, NUM10\n"
	out, err := pre.Run(src, "")
	assert(t, err == nil, "preprocess failed: %v", err)
	assert(t, contains(out, "ICARGA R4, 7"), "NUM1 should substitute to 7, got %q", out)
	assert(t, contains(out, "ICARGA R5, NUM10"), "NUM10 must not be corrupted by a NUM1 prefix match, got %q", out)
}

func TestIncludeCycleDetection(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.asm")
	b := filepath.Join(dir, "b.asm")
	assert(t, os.WriteFile(a, []byte("#include \"b.asm\"\nSUMA R4, R5\n"), 0o644) == nil, "setup failed")
	assert(t, os.WriteFile(b, []byte("#include \"a.asm\"\nRESTA R4, R5\n"), 0o644) == nil, "setup failed")

	pre := NewPreprocessor(dir)
	source, err := os.ReadFile(a)
	assert(t, err == nil, "read failed: %v", err)
	out, err := pre.Run(string(source), a)
	assert(t, err == nil, "cyclic include should not error, got %v", err)
	assert(t, contains(out, "SUMA R4, R5"), "original file content should survive, got %q", out)
	assert(t, contains(out, "RESTA R4, R5"), "included file content should appear, got %q", out)
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
