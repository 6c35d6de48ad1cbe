// Package fixture generates synthetic camera frames for tests.
package fixture

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Default frame size.
const (
	Width  = 160
	Height = 120
)

const squareSize = 32

// Frame returns a grey BGR frame with a white square whose left edge is at
// x = offset. The caller must Close the Mat.
func Frame(width, height, offset int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(64, 64, 64, 0), height, width, gocv.MatTypeCV8UC3)
	x := offset % max(width-squareSize, 1)
	y := (height - squareSize) / 2
	gocv.Rectangle(&mat, image.Rect(x, y, x+squareSize, y+squareSize), color.RGBA{255, 255, 255, 0}, -1)
	return &mat
}

// JPEG returns Frame(width, height, offset) encoded as JPEG.
func JPEG(width, height, offset int) ([]byte, error) {
	mat := Frame(width, height, offset)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Sequence returns n default-sized frames with the square moving right by
// step pixels per frame. A zero step yields n identical frames.
func Sequence(n, step int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = Frame(Width, Height, i*step)
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
