package media

import (
	"context"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/rs/zerolog/log"
)

// Play forwards remote RTP into sink until ctx is done or the track ends.
// The sink is closed on return.
func Play(ctx context.Context, sid string, src core.RemoteAudio, sink core.AudioSink) {
	logger := log.With().
		Str("module", "media.playback").
		Str("sid", sid).
		Str("track_id", src.ID()).
		Logger()
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("sink close")
		}
	}()

	logger.Info().Msg("remote audio started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("playback ctx done")
			return
		default:
		}
		pkt, err := src.ReadPacket()
		if err != nil {
			logger.Info().Err(err).Msg("remote audio ended")
			return
		}
		if err := sink.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, stopping playback")
			return
		}
	}
}
