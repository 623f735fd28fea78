// Package playback turns response text into audible speech on the output
// device.
//
// The [Controller] owns the [audio.Sink] exclusively. Speak requests queue
// in FIFO order and are served by a single background dispatch goroutine:
// each request is synthesized through the TTS provider and its PCM chunks
// written to the sink as they arrive. [Controller.Stop] interrupts the
// current request immediately and clears the queue; every affected request
// still completes with Interrupted set, so the caller's state logic is
// uniform regardless of why playback ended.
package playback

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// Result describes how a playback request ended.
type Result struct {
	// Interrupted is true when the request was stopped by [Controller.Stop]
	// (barge-in) or by closing the controller before it finished.
	Interrupted bool

	// Err is the synthesis or device error that ended playback, if any.
	Err error
}

// Handle represents one queued Speak request.
type Handle struct {
	// Text is the response text being spoken.
	Text string

	done chan Result
}

// Done returns a channel that receives the request's [Result] exactly once.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// Events are the controller-level playback callbacks. Both are invoked from
// the dispatch goroutine (or, for requests cleared by Stop or Close, from
// the calling goroutine) and must not block.
type Events struct {
	// OnStart fires once per request, when its first audio chunk is written.
	// Requests that fail or are interrupted before any audio never fire it.
	OnStart func(h *Handle)

	// OnDone fires exactly once per request, however it ended.
	OnDone func(h *Handle, res Result)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithEvents registers the playback callbacks.
func WithEvents(ev Events) Option {
	return func(c *Controller) { c.events = ev }
}

// WithMetrics wires the pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller serializes speech synthesis and playback onto the output
// device.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	synth tts.Provider
	sink  audio.Sink
	voice tts.VoiceProfile

	events  Events
	metrics *observe.Metrics

	mu            sync.Mutex
	queue         []*Handle
	playing       *Handle
	cancelPlaying chan struct{}
	closed        bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a [Controller] speaking with the given voice. The background
// dispatch goroutine starts immediately; call [Controller.Close] to stop it.
func New(synth tts.Provider, sink audio.Sink, voice tts.VoiceProfile, opts ...Option) *Controller {
	c := &Controller{
		synth:  synth,
		sink:   sink,
		voice:  voice,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.dispatch()
	return c
}

// Speak queues text for synthesis and playback. Requests are played in the
// order they were queued; they never overlap. Returns a [Handle] whose Done
// channel reports completion. On a closed controller the handle completes
// immediately with Interrupted set.
func (c *Controller) Speak(text string) *Handle {
	h := &Handle{Text: text, done: make(chan Result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.finish(h, Result{Interrupted: true}, false)
		return h
	}
	c.queue = append(c.queue, h)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return h
}

// Stop interrupts the current request immediately and clears the queue.
// The interrupted request and every cleared request complete with
// Interrupted set. Stop is a no-op when nothing is queued or playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	cleared := c.queue
	c.queue = nil
	if c.cancelPlaying != nil {
		close(c.cancelPlaying)
		c.cancelPlaying = nil
	}
	c.mu.Unlock()

	for _, h := range cleared {
		c.finish(h, Result{Interrupted: true}, false)
	}
}

// Active reports whether a request is currently playing or queued.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing != nil || len(c.queue) > 0
}

// Close stops the dispatch goroutine and completes all outstanding requests
// with Interrupted set. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cleared := c.queue
	c.queue = nil
	if c.cancelPlaying != nil {
		close(c.cancelPlaying)
		c.cancelPlaying = nil
	}
	c.mu.Unlock()

	close(c.done)
	for _, h := range cleared {
		c.finish(h, Result{Interrupted: true}, false)
	}
	return nil
}

// dispatch serves queued requests one at a time until Close.
func (c *Controller) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		for {
			h, cancel, ok := c.dequeue()
			if !ok {
				break
			}
			c.play(h, cancel)

			c.mu.Lock()
			if c.playing == h {
				c.playing = nil
				c.cancelPlaying = nil
			}
			c.mu.Unlock()
		}
	}
}

// dequeue pops the next request and marks it playing.
func (c *Controller) dequeue() (h *Handle, cancel chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 || c.closed {
		return nil, nil, false
	}
	h = c.queue[0]
	c.queue = c.queue[1:]
	cancel = make(chan struct{})
	c.playing = h
	c.cancelPlaying = cancel
	return h, cancel, true
}

// play synthesizes h.Text and streams the audio to the sink until the
// request ends, is cancelled, or the controller shuts down.
func (c *Controller) play(h *Handle, cancel chan struct{}) {
	ctx, cancelSynth := context.WithCancel(context.Background())
	defer cancelSynth()

	textCh := make(chan string, 1)
	textCh <- h.Text
	close(textCh)

	audioCh, err := c.synth.SynthesizeStream(ctx, textCh, c.voice)
	if err != nil {
		c.finish(h, Result{Err: err}, false)
		return
	}

	started := false
	for {
		select {
		case <-c.done:
			cancelSynth()
			go drain(audioCh)
			c.finish(h, Result{Interrupted: true}, started)
			return
		case <-cancel:
			cancelSynth()
			go drain(audioCh)
			c.finish(h, Result{Interrupted: true}, started)
			return
		case chunk, ok := <-audioCh:
			if !ok {
				c.finish(h, Result{}, started)
				return
			}
			if !started {
				started = true
				if c.metrics != nil {
					c.metrics.ActivePlaybacks.Add(ctx, 1)
				}
				if c.events.OnStart != nil {
					c.events.OnStart(h)
				}
			}
			if werr := c.sink.Write(chunk); werr != nil {
				cancelSynth()
				go drain(audioCh)
				c.finish(h, Result{Err: werr}, started)
				return
			}
		}
	}
}

// finish completes h exactly once: delivers the result on the handle's
// channel and fires OnDone.
func (c *Controller) finish(h *Handle, res Result, started bool) {
	if started && c.metrics != nil {
		c.metrics.ActivePlaybacks.Add(context.Background(), -1)
	}
	h.done <- res
	if c.events.OnDone != nil {
		c.events.OnDone(h, res)
	}
}

// drain consumes a synthesis channel so the provider's writer goroutine can
// exit after cancellation.
func drain(ch <-chan []byte) {
	for range ch {
	}
}
