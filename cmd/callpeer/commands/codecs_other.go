//go:build !linux || !cgo

package commands

import (
	"github.com/enochaseks/sideeye/internal/media"
	"github.com/pion/mediadevices"
)

// codecSelector has no encoders without cgo, so capture is unavailable and
// the peer can only receive.
func codecSelector() (*mediadevices.CodecSelector, error) {
	return nil, media.ErrUnsupported
}
