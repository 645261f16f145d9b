package core

import (
	"fmt"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/sdp/v3"
)

// RequireAudio fails with domain.ErrMissingAudioSection unless raw carries an m=audio section.
func RequireAudio(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("parse offer: %w: %v", domain.ErrMissingAudioSection, err)
	}
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			return nil
		}
	}
	return domain.ErrMissingAudioSection
}
