package videosource

import (
	"gocv.io/x/gocv"
)

// PixelFormat identifies the raw pixel layout of a decoded Image
type PixelFormat string

// PixelFormatBGR is 8 bit 3 channel BGR, the normalized decode output
const PixelFormatBGR PixelFormat = "bgr24"

// Image contains a raw pixel buffer
type Image struct {
	Mat    gocv.Mat
	Format PixelFormat
}

// NewImage creates a new Image
func NewImage(mat gocv.Mat) *Image {
	i := &Image{
		Mat:    gocv.Mat{},
		Format: PixelFormatBGR,
	}
	if mat.Ptr() != nil && !mat.Empty() {
		i.Mat = mat
	}
	return i
}

// IsValid checks the underlying image for validity
func (i *Image) IsValid() bool {
	return i.Mat.Ptr() != nil && !i.Mat.Empty()
}

// Height returns the Image height or -1
func (i *Image) Height() int {
	if !i.IsValid() {
		return -1
	}
	return i.Mat.Rows()
}

// Width returns the Image width or -1
func (i *Image) Width() int {
	if !i.IsValid() {
		return -1
	}
	return i.Mat.Cols()
}

// Clone will clone the Image
func (i *Image) Clone() *Image {
	clone := &Image{
		Format: i.Format,
	}
	if i.IsValid() {
		clone.Mat = i.Mat.Clone()
	}
	return clone
}

// Cleanup will cleanup the Image
func (i *Image) Cleanup() {
	if i.IsValid() {
		i.Mat.Close()
	}
}

// EncodeJPEG encodes a mat as JPEG at the quality percent given.
// The returned bytes are an independent copy.
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 100
	}
	jpgParams := []int{gocv.IMWriteJpegQuality, quality}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, jpgParams)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	return encoded, nil
}
