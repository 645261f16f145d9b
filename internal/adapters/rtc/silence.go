package rtc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is the 3-byte Opus packet that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// SilentTrack is an outbound Opus track carrying nothing but silence.
type SilentTrack struct {
	*webrtc.TrackLocalStaticSample
	stop chan struct{}
	once sync.Once
}

func NewSilentTrack() (*SilentTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "silence-"+uuid.NewString(), "voice")
	if err != nil {
		return nil, err
	}
	t := &SilentTrack{TrackLocalStaticSample: track, stop: make(chan struct{})}
	go t.run()
	return t, nil
}

func (t *SilentTrack) run() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Msg("silence write")
			}
		}
	}
}

// Stop ends the frame source. Safe to call more than once.
func (t *SilentTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}
