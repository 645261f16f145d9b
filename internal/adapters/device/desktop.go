// Package device is the desktop platform: default microphone in, default speaker out.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/adapters/rtc"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Playback plays the remote audio on the default output device.
	Playback bool
}

// Desktop implements core.MediaDevices on top of miniaudio.
type Desktop struct {
	opts Options

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewDesktop(opts Options) *Desktop {
	return &Desktop{opts: opts}
}

func (d *Desktop) context() (malgo.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			log.Debug().Str("module", "device").Msg(msg)
		})
		if err != nil {
			return malgo.Context{}, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
		}
		d.ctx = ctx
	}
	return d.ctx.Context, nil
}

func (d *Desktop) AcquireAudio(ctx context.Context) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}
	mic, err := openMicrophone(mctx)
	if err != nil {
		return nil, err
	}
	return []core.LocalTrack{mic}, nil
}

func (d *Desktop) NewSilentTrack() (core.LocalTrack, error) {
	return rtc.NewSilentTrack()
}

func (d *Desktop) OpenSpeaker() (core.AudioSink, error) {
	if !d.opts.Playback {
		return nil, nil
	}
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}
	sp, err := openSpeaker(mctx)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// Close frees the audio context. Tracks and speakers must be closed first.
func (d *Desktop) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}
