package videosource

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"gocv.io/x/gocv"
)

// WebcamSource is a USB or built-in camera device source.
// Grabbed frames are JPEG encoded so the envelope carries encoded bytes
// like every other source.
type WebcamSource struct {
	BaseSource
	deviceID         int
	quality          int
	gocvVideoCapture *gocv.VideoCapture
}

// NewWebcamSource creates a new WebcamSource
func NewWebcamSource(name string, deviceID int, quality int) *WebcamSource {
	w := &WebcamSource{
		BaseSource:       *NewBaseSource(name),
		deviceID:         deviceID,
		quality:          quality,
		gocvVideoCapture: nil,
	}
	return w
}

// Open implements interface
func (w *WebcamSource) Open() error {
	gocvVideoCapture, err := gocv.VideoCaptureDevice(w.deviceID)
	if err != nil {
		log.Warnf("Could not open video capture device: %d\n", w.deviceID)
		return fmt.Errorf("open device %d: %w", w.deviceID, err)
	}
	w.gocvVideoCapture = gocvVideoCapture
	return nil
}

// Close implements interface
func (w *WebcamSource) Close() {
	if w.gocvVideoCapture != nil {
		w.gocvVideoCapture.Close()
		w.gocvVideoCapture = nil
	}
}

// NextFrame implements interface
func (w *WebcamSource) NextFrame() (*Envelope, error) {
	if w.gocvVideoCapture == nil {
		return nil, ErrDisconnected
	}
	mat := gocv.NewMat()
	defer mat.Close()
	if !w.gocvVideoCapture.Read(&mat) {
		return nil, ErrDisconnected
	}
	if mat.Empty() {
		return nil, ErrTransient
	}
	encoded, err := EncodeJPEG(mat, w.quality)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return w.NewEnvelope(encoded), nil
}
