package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// Speaker decodes remote Opus and plays it on the default output device.
type Speaker struct {
	device *malgo.Device
	dec    *opus.Decoder
	pcm    []int16

	mu     sync.Mutex
	queue   chan []byte
	buf     []byte
	closed  bool
	dropped int
}

func openSpeaker(ctx malgo.Context) (*Speaker, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	s := &Speaker{
		dec:   dec,
		pcm:   make([]int16, frameSamples*6*channels), // 120ms, the longest Opus frame
		queue: make(chan []byte, 200),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = channels
	cfg.SampleRate = sampleRate
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(ctx, cfg, malgo.DeviceCallbacks{Data: s.fill})
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	s.device = dev
	return s, nil
}

// fill runs on the audio thread; underruns are padded with silence.
func (s *Speaker) fill(out, _ []byte, frameCount uint32) {
	need := int(frameCount) * channels * 2
	s.mu.Lock()
	defer s.mu.Unlock()
drain:
	for len(s.buf) < need {
		select {
		case chunk := <-s.queue:
			s.buf = append(s.buf, chunk...)
		default:
			break drain
		}
	}
	n := copy(out[:need], s.buf)
	s.buf = s.buf[n:]
	clear(out[n:need])
}

func (s *Speaker) WriteRTP(pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}
	n, err := s.dec.Decode(pkt.Payload, s.pcm)
	if err != nil {
		return nil // corrupt packets are skipped
	}
	chunk := samplesToBytes(s.pcm[:n*channels])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("speaker closed")
	}
	select {
	case s.queue <- chunk:
	default:
		s.dropped++
		if s.dropped%50 == 1 {
			log.Debug().Str("module", "device").Int("dropped", s.dropped).Msg("speaker behind, dropping audio")
		}
	}
	return nil
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	return nil
}
