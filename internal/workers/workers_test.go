package workers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/logger"
)

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (u *memUploader) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	u.objects[name] = b
	u.mu.Unlock()
	return "mem://" + name, nil
}

func TestArchivePoolUploadsWAV(t *testing.T) {
	up := &memUploader{objects: map[string][]byte{}}
	p := &ArchivePool{Uploader: up, SampleRate: 16000, Prefix: "utt", Logger: logger.Discard()}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	pcm := bytes.Repeat([]byte{0x10, 0x00}, 1600)
	p.Archive("call-1", 2, 1, pcm)
	p.Stop()
	p.Archive("call-1", 3, 1, pcm)

	if p.Uploaded() != 1 || len(up.objects) != 1 {
		t.Fatalf("uploaded = %d objects = %d", p.Uploaded(), len(up.objects))
	}
	wav := up.objects["utt/call-1/q02-a1.wav"]
	got, rate, err := audio.DecodeWAV(wav)
	if err != nil || rate != 16000 || !bytes.Equal(got, pcm) {
		t.Fatalf("decoded rate=%d len=%d err=%v", rate, len(got), err)
	}
}

func TestArchivePoolRequiresUploader(t *testing.T) {
	if err := (&ArchivePool{SampleRate: 16000}).Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (c *countingReconciler) Reconcile(context.Context, int) (int, int, error) {
	c.calls.Add(1)
	return 1, 0, c.err
}

func TestReconcileWorkerTicks(t *testing.T) {
	rec := &countingReconciler{}
	var purged atomic.Int32
	w := &ReconcileWorker{
		Submitter: rec,
		Interval:  10 * time.Millisecond,
		Logger:    logger.Discard(),
		Purge: func(context.Context) (int64, error) {
			purged.Add(1)
			return 0, nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for purged.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.calls.Load() < 2 || purged.Load() < 2 {
		t.Fatalf("reconcile=%d purge=%d", rec.calls.Load(), purged.Load())
	}
}

func TestReconcileRunOnceSurvivesErrors(t *testing.T) {
	w := &ReconcileWorker{Submitter: &countingReconciler{err: errors.New("db down")}, Logger: logger.Discard()}
	if d, _ := w.RunOnce(context.Background()); d != 1 {
		t.Fatalf("delivered = %d", d)
	}
}
