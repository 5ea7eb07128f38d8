package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/repositories"
)

const (
	defaultLanguage   = "en-US"
	resultsBufferSize = 32
)

// Capture implements SpeechCapture on top of a continuous recognition engine
type Capture struct {
	engine repositories.SpeechRecognizer
	config repositories.RecognitionConfig
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	run    uint64
}

// Ensure Capture implements the SpeechCapture interface
var _ repositories.SpeechCapture = (*Capture)(nil)

// NewCapture creates a capture adapter with continuous, interim-result recognition
func NewCapture(engine repositories.SpeechRecognizer, config repositories.RecognitionConfig, logger *zap.Logger) *Capture {
	if config.Language == "" {
		config.Language = defaultLanguage
		logger.Info("Using default recognition language", zap.String("language", config.Language))
	}
	config.Continuous = true
	config.InterimResults = true

	return &Capture{
		engine: engine,
		config: config,
		logger: logger,
	}
}

// IsSupported reports whether the underlying engine can be used right now
func (c *Capture) IsSupported() bool {
	return c.engine != nil && c.engine.Available()
}

// Listening reports whether a capture run is active
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// StartListening starts a capture run. Callbacks run on the capture goroutine,
// and results still queued when StopListening is called are dropped.
func (c *Capture) StartListening(onUpdate repositories.TranscriptUpdateFunc, onError repositories.CaptureErrorFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.logger.Debug("Capture already running, ignoring start")
		return
	}

	if !c.IsSupported() {
		c.logger.Warn("Speech recognition engine unavailable")
		go onError(domain.CaptureReasonServiceNotAllowed)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.run++
	run := c.run

	c.logger.Info("Speech capture started",
		zap.String("language", c.config.Language),
		zap.Uint64("run", run))

	go c.loop(ctx, run, onUpdate, onError)
}

// StopListening cancels the current run without waiting for the engine
func (c *Capture) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.logger.Info("Speech capture stopped", zap.Uint64("run", c.run))
}

func (c *Capture) loop(ctx context.Context, run uint64, onUpdate repositories.TranscriptUpdateFunc, onError repositories.CaptureErrorFunc) {
	results := make(chan repositories.RecognitionResult, resultsBufferSize)
	errCh := make(chan error, 1)

	go func() {
		defer close(results)
		errCh <- c.engine.Recognize(ctx, c.config, results)
	}()

	for result := range results {
		if ctx.Err() != nil {
			// drain until the engine notices the cancellation
			continue
		}
		onUpdate(result.Transcript, result.IsFinal)
	}

	err := <-errCh
	stopped := ctx.Err() != nil
	c.finish(run)

	if stopped {
		return
	}

	reason := domain.CaptureReason(err)
	if err != nil {
		c.logger.Error("Speech recognition failed",
			zap.Uint64("run", run),
			zap.String("reason", reason),
			zap.Error(err))
	} else {
		c.logger.Info("Speech recognition ended without a stop", zap.Uint64("run", run))
	}
	onError(reason)
}

// finish clears the run if it is still the current one
func (c *Capture) finish(run uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == run && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
