package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestUtteranceObject(t *testing.T) {
	if got := UtteranceObject("/utterances/", "call-1", 3, 2); got != "utterances/call-1/q03-a2.wav" {
		t.Fatalf("object = %q", got)
	}
	if got := UtteranceObject("", "call-1", 1, 1); got != "call-1/q01-a1.wav" {
		t.Fatalf("object = %q", got)
	}
}

func TestDirUploaderStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	u := DirUploader{Root: root}
	dst, err := u.Upload(context.Background(), "../../escape/x.wav", "audio/wav", bytes.NewReader([]byte("RIFF")))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(filepath.Dir(dst)) != root {
		t.Fatalf("written outside root: %s", dst)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "RIFF" {
		t.Fatalf("read back %q err=%v", b, err)
	}
}
