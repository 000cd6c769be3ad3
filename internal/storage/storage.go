package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// UtteranceObject names the archived WAV for one answer attempt.
func UtteranceObject(prefix, sessionID string, questionOrder, attempt int) string {
	name := fmt.Sprintf("%s/q%02d-a%d.wav", sessionID, questionOrder, attempt)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return path.Join(prefix, name)
	}
	return name
}

// DirUploader stores objects under a local directory. Used when no bucket is
// configured.
type DirUploader struct {
	Root string
}

func (u DirUploader) Upload(ctx context.Context, objectName string, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + objectName)
	dst := filepath.Join(u.Root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
