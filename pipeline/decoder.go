package pipeline

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/jonoton/percept/videosource"
)

// Decode errors
var (
	// ErrMalformed means the encoded bytes could not be decoded
	ErrMalformed = errors.New("pipeline: malformed encoded frame")
	// ErrUnsupported means the encoded bytes are not a supported format
	ErrUnsupported = errors.New("pipeline: unsupported encoded format")
)

// Decoder turns encoded frame bytes into a raw pixel buffer.
// Implementations must be safe for concurrent use since every worker
// in the pool shares one Decoder.
type Decoder interface {
	Decode(encoded []byte) (*videosource.Image, error)
}

// JPEGDecoder decodes JPEG bytes to a BGR pixel buffer. Decoding with
// IMReadColor always lands on 8 bit 3 channel BGR regardless of the
// source's chroma layout, which keeps the output deterministic.
type JPEGDecoder struct {
}

// NewJPEGDecoder creates a new JPEGDecoder
func NewJPEGDecoder() *JPEGDecoder {
	return &JPEGDecoder{}
}

// Decode implements interface
func (j *JPEGDecoder) Decode(encoded []byte) (*videosource.Image, error) {
	if len(encoded) < 2 || encoded[0] != 0xff || encoded[1] != 0xd8 {
		return nil, ErrUnsupported
	}
	mat, err := gocv.IMDecode(encoded, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrMalformed
	}
	return videosource.NewImage(mat), nil
}
