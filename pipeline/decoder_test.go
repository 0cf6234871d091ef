package pipeline

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/jonoton/percept/videosource"
)

func TestJPEGDecoderRoundTrip(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 140, 200, 0), 32, 32, gocv.MatTypeCV8UC3)
	defer mat.Close()
	encoded, err := videosource.EncodeJPEG(mat, 95)
	if err != nil {
		t.Fatalf("encode err = %v\n", err)
	}
	img, err := NewJPEGDecoder().Decode(encoded)
	if err != nil {
		t.Fatalf("decode err = %v\n", err)
	}
	defer img.Cleanup()
	if img.Width() != 32 || img.Height() != 32 {
		t.Fatalf("decoded size = %dx%d, expected 32x32\n", img.Width(), img.Height())
	}
	if img.Format != videosource.PixelFormatBGR {
		t.Fatalf("decoded format = %s, expected %s\n", img.Format, videosource.PixelFormatBGR)
	}
	got := img.Mat.GetVecbAt(16, 16)
	want := []uint8{90, 140, 200}
	for channel, expected := range want {
		diff := int(got[channel]) - int(expected)
		if diff < 0 {
			diff = -diff
		}
		if diff > 6 {
			t.Fatalf("channel %d = %d, expected about %d\n", channel, got[channel], expected)
		}
	}
}

func TestJPEGDecoderUnsupported(t *testing.T) {
	_, err := NewJPEGDecoder().Decode([]byte("not a jpeg"))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("decode err = %v, expected ErrUnsupported\n", err)
	}
}

func TestJPEGDecoderMalformed(t *testing.T) {
	corrupted := append([]byte{0xff, 0xd8}, []byte("garbage that is not entropy coded data")...)
	_, err := NewJPEGDecoder().Decode(corrupted)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("decode err = %v, expected ErrMalformed\n", err)
	}
}
