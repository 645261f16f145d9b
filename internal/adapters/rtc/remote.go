package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type remoteAudio struct {
	track *webrtc.TrackRemote
}

func (r remoteAudio) ID() string { return r.track.ID() }

func (r remoteAudio) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}
