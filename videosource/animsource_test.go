package videosource

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/kettek/apng"
)

func writeTestGif(t *testing.T) string {
	t.Helper()
	anim := &gif.GIF{}
	for i := 0; i < 2; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette.Plan9)
		for x := 0; x < 8; x++ {
			for y := 0; y < 8; y++ {
				frame.SetColorIndex(x, y, uint8(i*100+10))
			}
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 1)
	}
	path := filepath.Join(t.TempDir(), "anim.gif")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create gif: %v\n", err)
	}
	defer file.Close()
	if err := gif.EncodeAll(file, anim); err != nil {
		t.Fatalf("encode gif: %v\n", err)
	}
	return path
}

func TestAnimSourceLoops(t *testing.T) {
	a := NewAnimSource("anim", writeTestGif(t), 90)
	if err := a.Open(); err != nil {
		t.Fatalf("open err = %v\n", err)
	}
	defer a.Close()
	payloads := make([][]byte, 0, 5)
	for want := uint64(1); want <= 5; want++ {
		env, err := a.NextFrame()
		if err != nil {
			t.Fatalf("next frame err = %v\n", err)
		}
		if env.Sequence != want {
			t.Fatalf("sequence = %d, expected %d\n", env.Sequence, want)
		}
		if len(env.Encoded) < 2 || env.Encoded[0] != 0xff || env.Encoded[1] != 0xd8 {
			t.Fatalf("frame %d payload is not jpeg\n", want)
		}
		payloads = append(payloads, env.Encoded)
	}
	if !bytes.Equal(payloads[0], payloads[2]) || !bytes.Equal(payloads[1], payloads[3]) {
		t.Fatalf("animation did not loop with period 2\n")
	}
	if bytes.Equal(payloads[0], payloads[1]) {
		t.Fatalf("distinct frames encoded identically\n")
	}
}

func writeTestApng(t *testing.T) string {
	t.Helper()
	anim := apng.APNG{Frames: make([]apng.Frame, 2)}
	for i := range anim.Frames {
		frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
		shade := uint8(i*100 + 50)
		for x := 0; x < 8; x++ {
			for y := 0; y < 8; y++ {
				frame.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
			}
		}
		anim.Frames[i] = apng.Frame{
			Image:            frame,
			DelayNumerator:   1,
			DelayDenominator: 100,
		}
	}
	path := filepath.Join(t.TempDir(), "anim.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create apng: %v\n", err)
	}
	defer file.Close()
	if err := apng.Encode(file, anim); err != nil {
		t.Fatalf("encode apng: %v\n", err)
	}
	return path
}

func TestAnimSourceAPNG(t *testing.T) {
	a := NewAnimSource("anim", writeTestApng(t), 90)
	if err := a.Open(); err != nil {
		t.Fatalf("open err = %v\n", err)
	}
	defer a.Close()
	payloads := make([][]byte, 0, 4)
	for want := uint64(1); want <= 4; want++ {
		env, err := a.NextFrame()
		if err != nil {
			t.Fatalf("next frame err = %v\n", err)
		}
		if env.Sequence != want {
			t.Fatalf("sequence = %d, expected %d\n", env.Sequence, want)
		}
		if len(env.Encoded) < 2 || env.Encoded[0] != 0xff || env.Encoded[1] != 0xd8 {
			t.Fatalf("frame %d payload is not jpeg\n", want)
		}
		payloads = append(payloads, env.Encoded)
	}
	if !bytes.Equal(payloads[0], payloads[2]) || !bytes.Equal(payloads[1], payloads[3]) {
		t.Fatalf("animation did not loop with period 2\n")
	}
	if bytes.Equal(payloads[0], payloads[1]) {
		t.Fatalf("distinct frames encoded identically\n")
	}
}

func TestAnimSourceClosed(t *testing.T) {
	a := NewAnimSource("anim", writeTestGif(t), 90)
	if err := a.Open(); err != nil {
		t.Fatalf("open err = %v\n", err)
	}
	a.Close()
	if _, err := a.NextFrame(); err != ErrDisconnected {
		t.Fatalf("next frame err = %v, expected ErrDisconnected\n", err)
	}
}

func TestAnimSourceMissingFile(t *testing.T) {
	a := NewAnimSource("anim", filepath.Join(t.TempDir(), "missing.gif"), 90)
	if err := a.Open(); err == nil {
		t.Fatalf("open succeeded, expected error for missing file\n")
	}
}
