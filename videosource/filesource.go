package videosource

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"gocv.io/x/gocv"
)

// FileSource is a video file source. With loop enabled the file rewinds
// on end of stream instead of disconnecting.
type FileSource struct {
	BaseSource
	filename         string
	quality          int
	loop             bool
	gocvVideoCapture *gocv.VideoCapture
}

// NewFileSource creates a new FileSource
func NewFileSource(name string, filename string, quality int, loop bool) *FileSource {
	f := &FileSource{
		BaseSource:       *NewBaseSource(name),
		filename:         filename,
		quality:          quality,
		loop:             loop,
		gocvVideoCapture: nil,
	}
	return f
}

// Open implements interface
func (f *FileSource) Open() error {
	gocvVideoCapture, err := gocv.VideoCaptureFile(f.filename)
	if err != nil {
		log.Warnf("Could not open video capture file: %s\n", f.filename)
		return fmt.Errorf("open file %s: %w", f.filename, err)
	}
	f.gocvVideoCapture = gocvVideoCapture
	return nil
}

// Close implements interface
func (f *FileSource) Close() {
	if f.gocvVideoCapture != nil {
		f.gocvVideoCapture.Close()
		f.gocvVideoCapture = nil
	}
}

// NextFrame implements interface
func (f *FileSource) NextFrame() (*Envelope, error) {
	if f.gocvVideoCapture == nil {
		return nil, ErrDisconnected
	}
	mat := gocv.NewMat()
	defer mat.Close()
	if !f.gocvVideoCapture.Read(&mat) {
		if !f.loop {
			return nil, ErrDisconnected
		}
		f.gocvVideoCapture.Set(gocv.VideoCapturePosFrames, 0)
		if !f.gocvVideoCapture.Read(&mat) {
			return nil, ErrDisconnected
		}
	}
	if mat.Empty() {
		return nil, ErrTransient
	}
	encoded, err := EncodeJPEG(mat, f.quality)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return f.NewEnvelope(encoded), nil
}
