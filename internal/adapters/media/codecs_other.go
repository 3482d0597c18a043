//go:build !(linux && cgo)

package media

import "github.com/pion/mediadevices"

// DefaultCodecSelector is unavailable without the cgo encoders.
func DefaultCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, ErrCaptureUnsupported
}
