package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yoockh/yoocall/internal/audio"
)

// frameInterval is the playback time of one outbound packet.
const frameInterval = 20 * time.Millisecond

var errWriterClosed = errors.New("channel writer closed")

type writeReq struct {
	kind int
	data []byte
	done chan error
}

// writer serializes every data frame of one connection. Control frames
// (ping, close) go through WriteControl, which gorilla allows concurrently.
type writer struct {
	conn    *websocket.Conn
	timeout time.Duration
	reqs    chan writeReq
	stop    chan struct{}
	dead    chan struct{}
	once    sync.Once
}

func newWriter(conn *websocket.Conn, timeout time.Duration) *writer {
	w := &writer{
		conn:    conn,
		timeout: timeout,
		reqs:    make(chan writeReq, 32),
		stop:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *writer) loop() {
	defer close(w.dead)
	for {
		select {
		case <-w.stop:
			return
		case r := <-w.reqs:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
			err := w.conn.WriteMessage(r.kind, r.data)
			if r.done != nil {
				r.done <- err
			}
			if err != nil {
				return
			}
		}
	}
}

// send queues one message. With wait it returns once the message was written.
func (w *writer) send(ctx context.Context, kind int, data []byte, wait bool) error {
	r := writeReq{kind: kind, data: data}
	if wait {
		r.done = make(chan error, 1)
	}
	select {
	case w.reqs <- r:
	case <-w.dead:
		return errWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if !wait {
		return nil
	}
	select {
	case err := <-r.done:
		return err
	case <-w.dead:
		return errWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	w.once.Do(func() { close(w.stop) })
	<-w.dead
}

// callChannel is the outbound half handed to the session machine.
type callChannel struct {
	w    *writer
	tc   *audio.Transcoder
	pace bool
}

// Play encodes pcm to channel packets and writes them in order. With pacing
// on, one packet is sent per 20 ms so the caller has heard the prompt when
// Play returns.
func (c *callChannel) Play(ctx context.Context, pcm []byte) error {
	frames := append(c.tc.FromCanonicalFrames(pcm), c.tc.FlushFrames()...)
	if len(frames) == 0 {
		return nil
	}

	var tick *time.Ticker
	if c.pace {
		tick = time.NewTicker(frameInterval)
		defer tick.Stop()
	}
	for i, f := range frames {
		if tick != nil && i > 0 {
			select {
			case <-tick.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		last := i == len(frames)-1
		if err := c.w.send(ctx, websocket.BinaryMessage, f, last); err != nil {
			return err
		}
	}
	return nil
}

func (c *callChannel) Mark(ctx context.Context, questionIndex int) error {
	v := questionIndex
	return c.w.send(ctx, websocket.TextMessage, controlMessage(EventQuestionIndex, &v), false)
}

func (c *callChannel) Hangup(ctx context.Context) error {
	return c.w.send(ctx, websocket.TextMessage, controlMessage(EventHangup, nil), true)
}
