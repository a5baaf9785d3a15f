// Package media opens local camera, microphone and screen capture and
// classifies the ways that can fail.
package media

import (
	"context"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/sirupsen/logrus"
)

// Profile selects the constraints of a user media request.
type Profile int

const (
	// ProfileCall is 720p video at 30 fps with audio.
	ProfileCall Profile = iota
	// ProfileAudioOnly is audio without video.
	ProfileAudioOnly
)

func (p Profile) String() string {
	switch p {
	case ProfileCall:
		return "call"
	case ProfileAudioOnly:
		return "audio-only"
	}
	return "unknown"
}

// Acquirer opens media streams from a Devices backend.
type Acquirer struct {
	devices Devices
	logger  logrus.FieldLogger
}

func NewAcquirer(devices Devices, logger logrus.FieldLogger) *Acquirer {
	return &Acquirer{
		devices: devices,
		logger:  logger.WithField("component", "media"),
	}
}

// UserMedia opens camera and microphone for profile. When no device exposes
// a label yet, access has not been granted, so a minimal stream is opened
// and released first to obtain the permission.
func (a *Acquirer) UserMedia(ctx context.Context, profile Profile) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := a.devices.Enumerate()
	if !anyLabelled(devices) {
		a.logger.WithField("devices", len(devices)).Info("Requesting device permission")
		if err := a.probe(profile); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	tracks, err := a.devices.UserMedia(constraintsFor(profile))
	if err != nil {
		mediaErr := Classify(err)
		a.logger.WithFields(logrus.Fields{
			"profile":  profile.String(),
			"category": mediaErr.Category,
			"error":    err,
		}).Warn("Failed to open user media")
		return nil, mediaErr
	}

	stream := NewStream(tracks)
	a.logger.WithFields(logrus.Fields{
		"profile": profile.String(),
		"stream":  stream.ID(),
		"tracks":  len(tracks),
	}).Info("User media opened")
	return stream, nil
}

// probe opens the lowest-quality stream profile allows and releases it.
func (a *Acquirer) probe(profile Profile) error {
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if profile == ProfileCall {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Max: 320}
			c.Height = prop.IntRanged{Max: 240}
		}
	}

	tracks, err := a.devices.UserMedia(constraints)
	if err != nil {
		mediaErr := Classify(err)
		a.logger.WithFields(logrus.Fields{
			"category": mediaErr.Category,
			"error":    err,
		}).Warn("Permission probe failed")
		return mediaErr
	}
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			a.logger.WithError(err).Debug("Failed to release probe track")
		}
	}
	return nil
}

// ScreenShare opens a display capture stream. When the capture ends on its
// own (the shared window closes) the stream is stopped as if Stop was called.
func (a *Acquirer) ScreenShare(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracks, err := a.devices.DisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Max: 1920}
			c.Height = prop.IntRanged{Max: 1080}
			c.FrameRate = prop.Float(30)
		},
	})
	if err != nil {
		mediaErr := Classify(err)
		a.logger.WithFields(logrus.Fields{
			"category": mediaErr.Category,
			"error":    err,
		}).Warn("Failed to open screen share")
		return nil, mediaErr
	}

	stream := NewStream(tracks)
	logger := a.logger.WithField("stream", stream.ID())
	if video := stream.VideoTrack(); video != nil {
		video.OnEnded(func(err error) {
			logger.WithError(err).Info("Screen share ended")
			if err := stream.Stop(); err != nil {
				logger.WithError(err).Warn("Failed to release screen share")
			}
		})
	}
	logger.Info("Screen share opened")
	return stream, nil
}

func constraintsFor(profile Profile) mediadevices.MediaStreamConstraints {
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if profile == ProfileCall {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(1280)
			c.Height = prop.Int(720)
			c.FrameRate = prop.Float(30)
		}
	}
	return constraints
}

func anyLabelled(devices []mediadevices.MediaDeviceInfo) bool {
	for _, d := range devices {
		if d.Label != "" {
			return true
		}
	}
	return false
}
