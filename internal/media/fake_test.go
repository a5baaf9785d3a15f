package media

import (
	"errors"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	closed  int
	onEnded func(error)
}

func newFakeTrack(kind webrtc.RTPCodecType, id string) *fakeTrack {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "fake-stream")
	if err != nil {
		panic(err)
	}
	return &fakeTrack{TrackLocalStaticSample: local}
}

func (t *fakeTrack) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) end(err error) {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (t *fakeTrack) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDevices struct {
	mu           sync.Mutex
	devices      []mediadevices.MediaDeviceInfo
	userErr      error
	probeErr     error
	displayErr   error
	userRequests []mediadevices.MediaStreamConstraints
	opened       [][]*fakeTrack
}

func (d *fakeDevices) Enumerate() []mediadevices.MediaDeviceInfo {
	return d.devices
}

func (d *fakeDevices) UserMedia(constraints mediadevices.MediaStreamConstraints) ([]Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	first := len(d.userRequests) == 0
	d.userRequests = append(d.userRequests, constraints)
	if first && d.probeErr != nil {
		return nil, d.probeErr
	}
	if d.userErr != nil {
		return nil, d.userErr
	}

	fakes := []*fakeTrack{newFakeTrack(webrtc.RTPCodecTypeAudio, "mic")}
	if constraints.Video != nil {
		fakes = append(fakes, newFakeTrack(webrtc.RTPCodecTypeVideo, "camera"))
	}
	d.opened = append(d.opened, fakes)
	return asTracks(fakes), nil
}

func (d *fakeDevices) DisplayMedia(mediadevices.MediaStreamConstraints) ([]Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.displayErr != nil {
		return nil, d.displayErr
	}
	fakes := []*fakeTrack{newFakeTrack(webrtc.RTPCodecTypeVideo, "screen")}
	d.opened = append(d.opened, fakes)
	return asTracks(fakes), nil
}

func asTracks(fakes []*fakeTrack) []Track {
	tracks := make([]Track, 0, len(fakes))
	for _, f := range fakes {
		tracks = append(tracks, f)
	}
	return tracks
}

var errBoom = errors.New("boom")
