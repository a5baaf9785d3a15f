package media

import (
	"github.com/pion/mediadevices"
)

// Devices is the capture backend.
type Devices interface {
	Enumerate() []mediadevices.MediaDeviceInfo
	UserMedia(constraints mediadevices.MediaStreamConstraints) ([]Track, error)
	DisplayMedia(constraints mediadevices.MediaStreamConstraints) ([]Track, error)
}

// NativeDevices captures through pion/mediadevices. Drivers register
// themselves by blank import; without them every request fails as not found.
type NativeDevices struct {
	codecs *mediadevices.CodecSelector
}

// NewNativeDevices returns devices encoding with codecs. A nil selector
// leaves tracks unencoded, which only suits receive-only peers.
func NewNativeDevices(codecs *mediadevices.CodecSelector) *NativeDevices {
	return &NativeDevices{codecs: codecs}
}

func (d *NativeDevices) Enumerate() []mediadevices.MediaDeviceInfo {
	return mediadevices.EnumerateDevices()
}

func (d *NativeDevices) UserMedia(constraints mediadevices.MediaStreamConstraints) ([]Track, error) {
	if constraints.Codec == nil {
		constraints.Codec = d.codecs
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return tracksOf(stream), nil
}

func (d *NativeDevices) DisplayMedia(constraints mediadevices.MediaStreamConstraints) ([]Track, error) {
	if constraints.Codec == nil {
		constraints.Codec = d.codecs
	}
	stream, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, err
	}
	return tracksOf(stream), nil
}

func tracksOf(stream mediadevices.MediaStream) []Track {
	var tracks []Track
	for _, t := range stream.GetTracks() {
		tracks = append(tracks, t)
	}
	return tracks
}
