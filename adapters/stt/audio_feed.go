package stt

import "sync"

const defaultFeedCapacity = 64

// AudioFeed buffers microphone frames pushed by a transport until a
// recognizer consumes them. Frames are dropped when the buffer is full.
type AudioFeed struct {
	mu      sync.Mutex
	frames  chan []byte
	dropped int
}

func NewAudioFeed(capacity int) *AudioFeed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &AudioFeed{frames: make(chan []byte, capacity)}
}

// Push queues a copy of frame, returning false when it had to be dropped
func (f *AudioFeed) Push(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	chunk := make([]byte, len(frame))
	copy(chunk, frame)

	select {
	case f.frames <- chunk:
		return true
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		return false
	}
}

// Frames exposes the queued frames to a recognizer
func (f *AudioFeed) Frames() <-chan []byte {
	return f.frames
}

// Reset discards stale frames so a new capture run starts from live audio
func (f *AudioFeed) Reset() {
	for {
		select {
		case <-f.frames:
		default:
			return
		}
	}
}

// Dropped returns how many frames were discarded because of back pressure
func (f *AudioFeed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
