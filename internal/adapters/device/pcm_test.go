package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBufferHandsOutWholeFrames(t *testing.T) {
	b := newFrameBuffer()
	dst := make([]int16, frameSamples)

	half := make([]byte, bytesPerFrame/2)
	b.Write(half)
	assert.False(t, b.Next(dst))

	rest := samplesToBytes(make([]int16, frameSamples/2))
	rest[0] = 0x34
	rest[1] = 0x12
	b.Write(rest)

	select {
	case <-b.Ready():
	default:
		t.Fatal("expected ready signal once a frame is complete")
	}
	require.True(t, b.Next(dst))
	assert.Equal(t, int16(0x1234), dst[frameSamples/2])
	assert.False(t, b.Next(dst))
}

func TestFrameBufferIgnoresWritesAfterClose(t *testing.T) {
	b := newFrameBuffer()
	b.Close()
	b.Write(make([]byte, bytesPerFrame))
	assert.False(t, b.Next(make([]int16, frameSamples)))
}

func TestSampleConversionRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := make([]int16, len(in))
	bytesToSamples(samplesToBytes(in), out)
	assert.Equal(t, in, out)
}

func TestOpenSpeakerDisabled(t *testing.T) {
	sink, err := NewDesktop(Options{Playback: false}).OpenSpeaker()
	assert.NoError(t, err)
	assert.Nil(t, sink)
}
