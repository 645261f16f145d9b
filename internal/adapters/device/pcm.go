package device

import (
	"encoding/binary"
	"sync"
)

const (
	sampleRate    = 48000
	channels      = 1
	frameSamples  = sampleRate / 50 // 20ms
	bytesPerFrame = frameSamples * channels * 2
	maxPacketSize = 4000
)

// frameBuffer accumulates S16LE capture bytes and hands out whole 20ms frames.
type frameBuffer struct {
	mu     sync.Mutex
	buf    []byte
	ready  chan struct{}
	closed bool
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{
		buf:   make([]byte, 0, bytesPerFrame*10),
		ready: make(chan struct{}, 1),
	}
}

func (b *frameBuffer) Write(p []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// keep at most one second so a stalled encoder can't grow us unbounded
	if len(b.buf)+len(p) > bytesPerFrame*50 {
		b.buf = b.buf[:0]
	}
	b.buf = append(b.buf, p...)
	full := len(b.buf) >= bytesPerFrame
	b.mu.Unlock()
	if full {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
}

// Next pops one frame as samples, or returns false when none is buffered.
func (b *frameBuffer) Next(dst []int16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) < bytesPerFrame {
		return false
	}
	bytesToSamples(b.buf[:bytesPerFrame], dst)
	b.buf = append(b.buf[:0], b.buf[bytesPerFrame:]...)
	return true
}

func (b *frameBuffer) Ready() <-chan struct{} { return b.ready }

func (b *frameBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.buf = nil
	b.mu.Unlock()
}

func bytesToSamples(src []byte, dst []int16) {
	for i := range dst {
		if 2*i+1 >= len(src) {
			return
		}
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
}

func samplesToBytes(src []int16) []byte {
	out := make([]byte, 2*len(src))
	for i, s := range src {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
