package workers

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/storage"
)

type archiveJob struct {
	sessionID string
	order     int
	attempt   int
	pcm       []byte
}

// ArchivePool uploads recognized utterances as WAV files. Enqueue never blocks
// a call; jobs beyond the queue size are dropped.
type ArchivePool struct {
	Uploader   storage.Uploader
	SampleRate int
	Prefix     string
	NumWorkers int
	QueueSize  int
	Timeout    time.Duration
	Logger     *logrus.Logger

	jobs     chan archiveJob
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	uploaded atomic.Int64
	dropped  atomic.Int64
}

func (p *ArchivePool) Start(ctx context.Context) error {
	if p.Uploader == nil || p.SampleRate <= 0 {
		return errors.New("ArchivePool missing dependency: Uploader and SampleRate must be set")
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 256
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	p.jobs = make(chan archiveJob, p.QueueSize)
	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return nil
}

func (p *ArchivePool) run(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.handle(ctx, job)
	}
}

func (p *ArchivePool) handle(ctx context.Context, job archiveJob) {
	log := p.Logger.WithFields(logrus.Fields{
		"session_id": job.sessionID,
		"question":   job.order,
		"attempt":    job.attempt,
	})

	wav, err := audio.WAVBytes(job.pcm, p.SampleRate)
	if err != nil {
		log.WithError(err).Warn("archive encode failed")
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
	defer cancel()
	name := storage.UtteranceObject(p.Prefix, job.sessionID, job.order, job.attempt)
	stored, err := p.Uploader.Upload(cctx, name, "audio/wav", bytes.NewReader(wav))
	if err != nil {
		log.WithError(err).Warn("archive upload failed")
		return
	}
	p.uploaded.Add(1)
	log.WithField("object", stored).Debug("utterance archived")
}

// Archive implements session.Archiver.
func (p *ArchivePool) Archive(sessionID string, questionOrder, attempt int, pcm []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || p.jobs == nil {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case p.jobs <- archiveJob{sessionID: sessionID, order: questionOrder, attempt: attempt, pcm: buf}:
	default:
		p.dropped.Add(1)
		p.Logger.WithField("session_id", sessionID).Warn("archive queue full, utterance dropped")
	}
}

// Stop waits for queued uploads to finish.
func (p *ArchivePool) Stop() {
	p.mu.Lock()
	if !p.stopped && p.jobs != nil {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *ArchivePool) Uploaded() int64 { return p.uploaded.Load() }
func (p *ArchivePool) Dropped() int64  { return p.dropped.Load() }
