package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: sampleRate,
	Channels:  2,
}

// MicTrack captures the default input device and sends it as Opus.
type MicTrack struct {
	*webrtc.TrackLocalStaticSample

	device *malgo.Device
	enc    *opus.Encoder
	frames *frameBuffer
	stop   chan struct{}
	once   sync.Once
}

func openMicrophone(ctx malgo.Context) (*MicTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "mic-"+uuid.NewString(), "voice")
	if err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", domain.ErrMediaUnavailable, err)
	}

	m := &MicTrack{
		TrackLocalStaticSample: track,
		enc:                    enc,
		frames:                 newFrameBuffer(),
		stop:                   make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = channels
	cfg.SampleRate = sampleRate
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(ctx, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { m.frames.Write(in) },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	m.device = dev

	go m.encodeLoop()
	log.Info().Str("module", "device").Str("track_id", m.ID()).Msg("microphone capturing")
	return m, nil
}

func (m *MicTrack) encodeLoop() {
	pcm := make([]int16, frameSamples*channels)
	packet := make([]byte, maxPacketSize)
	for {
		select {
		case <-m.stop:
			return
		case <-m.frames.Ready():
		}
		for m.frames.Next(pcm) {
			n, err := m.enc.Encode(pcm, packet)
			if err != nil {
				log.Warn().Err(err).Str("module", "device").Msg("opus encode")
				continue
			}
			data := make([]byte, n)
			copy(data, packet[:n])
			if err := m.WriteSample(media.Sample{Data: data, Duration: 20 * time.Millisecond}); err != nil {
				log.Debug().Err(err).Str("module", "device").Msg("mic write")
			}
		}
	}
}

// Stop releases the capture device. Safe to call more than once.
func (m *MicTrack) Stop() {
	m.once.Do(func() {
		close(m.stop)
		if m.device != nil {
			_ = m.device.Stop()
			m.device.Uninit()
		}
		m.frames.Close()
		log.Info().Str("module", "device").Str("track_id", m.ID()).Msg("microphone released")
	})
}
