package videosource

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"io"
	"os"
	"time"

	"github.com/kettek/apng"
	log "github.com/sirupsen/logrus"
)

const defaultAnimFrameDelay = 100 * time.Millisecond

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

// AnimSource is a looped animation file source accepting GIF and APNG.
// All frames are composited and JPEG encoded once at Open, then replayed
// endlessly honoring each frame's delay.
type AnimSource struct {
	BaseSource
	filename string
	quality  int
	frames   [][]byte
	delays   []time.Duration
	index    int
	lastRead time.Time
}

// NewAnimSource creates a new AnimSource
func NewAnimSource(name string, filename string, quality int) *AnimSource {
	a := &AnimSource{
		BaseSource: *NewBaseSource(name),
		filename:   filename,
		quality:    quality,
	}
	return a
}

// Open implements interface
func (a *AnimSource) Open() error {
	file, err := os.Open(a.filename)
	if err != nil {
		log.Warnf("Could not open animation file: %s\n", a.filename)
		return fmt.Errorf("open animation %s: %w", a.filename, err)
	}
	defer file.Close()
	reader := bufio.NewReader(file)
	magic, err := reader.Peek(len(pngMagic))
	if err != nil {
		return fmt.Errorf("read animation %s: %w", a.filename, err)
	}
	var frames []image.Image
	var delays []time.Duration
	if bytes.Equal(magic, pngMagic) {
		frames, delays, err = decodeAPNG(reader)
	} else {
		frames, delays, err = decodeGIF(reader)
	}
	if err != nil {
		return fmt.Errorf("decode animation %s: %w", a.filename, err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("animation %s has no frames", a.filename)
	}
	quality := a.quality
	if quality <= 0 || quality > 100 {
		quality = 100
	}
	a.frames = make([][]byte, 0, len(frames))
	a.delays = make([]time.Duration, 0, len(frames))
	for index, frame := range frames {
		buf := &bytes.Buffer{}
		if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode animation frame: %w", err)
		}
		a.frames = append(a.frames, buf.Bytes())
		a.delays = append(a.delays, delays[index])
	}
	a.index = 0
	a.lastRead = time.Time{}
	return nil
}

// decodeGIF composites the animation onto a canvas and snapshots each frame
func decodeGIF(r io.Reader) (frames []image.Image, delays []time.Duration, err error) {
	anim, err := gif.DecodeAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(anim.Image) == 0 {
		return nil, nil, nil
	}
	bounds := anim.Image[0].Bounds()
	canvas := image.NewRGBA(bounds)
	for index, paletted := range anim.Image {
		draw.Draw(canvas, paletted.Bounds(), paletted, paletted.Bounds().Min, draw.Over)
		snap := image.NewRGBA(bounds)
		draw.Draw(snap, bounds, canvas, bounds.Min, draw.Src)
		delay := defaultAnimFrameDelay
		if index < len(anim.Delay) && anim.Delay[index] > 0 {
			delay = time.Duration(anim.Delay[index]) * 10 * time.Millisecond
		}
		frames = append(frames, snap)
		delays = append(delays, delay)
	}
	return frames, delays, nil
}

// decodeAPNG composites the animation frames at their offsets. The optional
// default image is not part of the animation and is skipped.
func decodeAPNG(r io.Reader) (frames []image.Image, delays []time.Duration, err error) {
	anim, err := apng.DecodeAll(r)
	if err != nil {
		return nil, nil, err
	}
	var bounds image.Rectangle
	var canvas *image.RGBA
	for _, frame := range anim.Frames {
		if frame.IsDefault {
			continue
		}
		if canvas == nil {
			bounds = frame.Image.Bounds()
			canvas = image.NewRGBA(bounds)
		}
		frameBounds := frame.Image.Bounds()
		target := frameBounds.Sub(frameBounds.Min).Add(image.Pt(frame.XOffset, frame.YOffset))
		draw.Draw(canvas, target, frame.Image, frameBounds.Min, draw.Over)
		snap := image.NewRGBA(bounds)
		draw.Draw(snap, bounds, canvas, bounds.Min, draw.Src)
		den := time.Duration(100)
		if frame.DelayDenominator > 0 {
			den = time.Duration(frame.DelayDenominator)
		}
		delay := time.Duration(frame.DelayNumerator) * time.Second / den
		if delay <= 0 {
			delay = defaultAnimFrameDelay
		}
		frames = append(frames, snap)
		delays = append(delays, delay)
	}
	return frames, delays, nil
}

// Close implements interface
func (a *AnimSource) Close() {
	a.frames = nil
	a.delays = nil
}

// NextFrame implements interface. Blocks until the current frame's delay
// has elapsed, which paces the loop at the animation's native speed.
func (a *AnimSource) NextFrame() (*Envelope, error) {
	if len(a.frames) == 0 {
		return nil, ErrDisconnected
	}
	if !a.lastRead.IsZero() {
		elapsed := time.Since(a.lastRead)
		if wait := a.delays[a.index] - elapsed; wait > 0 {
			time.Sleep(wait)
		}
	}
	encoded := make([]byte, len(a.frames[a.index]))
	copy(encoded, a.frames[a.index])
	a.lastRead = time.Now()
	a.index = (a.index + 1) % len(a.frames)
	return a.NewEnvelope(encoded), nil
}
