//go:build linux && cgo && screencapture

package commands

// The screen driver needs X11 headers, so it is opt-in.
import _ "github.com/pion/mediadevices/pkg/driver/screen"
