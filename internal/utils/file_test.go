package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path string, size int, random bool) {
	t.Helper()
	data := make([]byte, size)
	if random {
		for i := range data {
			data[i] = byte(i*31 + 7)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	dstPath := filepath.Join(dir, "dst.bin")
	writeTestFile(t, srcPath, 1024, true)

	if err := CopyFile(srcPath, dstPath); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	srcData, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	dstData, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(srcData, dstData) {
		t.Error("copied file contents don't match source")
	}
}

func TestCopyFile_SourceNotExists(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nonexistent.bin"), filepath.Join(dir, "dst.bin"))
	if err == nil {
		t.Error("expected error for nonexistent source")
	}
}

func TestCopyFile_InvalidDestination(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	writeTestFile(t, srcPath, 100, false)

	err := CopyFile(srcPath, filepath.Join(dir, "nonexistent", "subdir", "dst.bin"))
	if err == nil {
		t.Error("expected error for invalid destination")
	}
}

func TestCopyFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "empty.bin")
	dstPath := filepath.Join(dir, "empty_copy.bin")
	writeTestFile(t, srcPath, 0, false)

	if err := CopyFile(srcPath, dstPath); err != nil {
		t.Fatalf("CopyFile failed for empty file: %v", err)
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty destination, got %d bytes", info.Size())
	}
}

func TestCopyFile_LargeFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "large.bin")
	dstPath := filepath.Join(dir, "large_copy.bin")
	size := 5 * 1024 * 1024 // 5MB
	writeTestFile(t, srcPath, size, false)

	if err := CopyFile(srcPath, dstPath); err != nil {
		t.Fatalf("CopyFile failed for large file: %v", err)
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(size) {
		t.Errorf("expected %d bytes, got %d", size, info.Size())
	}
}

func TestCopyFile_ContentVerification(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "random.bin")
	dstPath := filepath.Join(dir, "random_copy.bin")
	size := 128 * 1024 // 128KB
	writeTestFile(t, srcPath, size, true)

	if err := CopyFile(srcPath, dstPath); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	srcData, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	dstData, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(srcData, dstData) {
		t.Error("copied file content doesn't match source")
	}
}
