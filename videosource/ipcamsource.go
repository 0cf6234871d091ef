package videosource

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mattn/go-mjpeg"
)

// IPCamSource is a network camera streaming MJPEG over HTTP.
// Frames come off the wire already JPEG encoded, so no re-encode happens.
type IPCamSource struct {
	BaseSource
	url     string
	decoder *mjpeg.Decoder
}

// NewIPCamSource creates a new IPCamSource
func NewIPCamSource(name string, url string) *IPCamSource {
	i := &IPCamSource{
		BaseSource: *NewBaseSource(name),
		url:        url,
		decoder:    nil,
	}
	return i
}

// Open implements interface
func (i *IPCamSource) Open() error {
	decoder, err := mjpeg.NewDecoderFromURL(i.url)
	if err != nil {
		log.Warnf("Could not open mjpeg stream url: %s\n", i.url)
		return fmt.Errorf("open mjpeg url %s: %w", i.url, err)
	}
	i.decoder = decoder
	return nil
}

// Close implements interface
func (i *IPCamSource) Close() {
	i.decoder = nil
}

// NextFrame implements interface
func (i *IPCamSource) NextFrame() (*Envelope, error) {
	if i.decoder == nil {
		return nil, ErrDisconnected
	}
	encoded, err := i.decoder.DecodeRaw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if len(encoded) == 0 {
		return nil, ErrTransient
	}
	return i.NewEnvelope(encoded), nil
}
