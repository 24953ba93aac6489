package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // frame sources may deliver PNG
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

const lineWidth = 2

// Canvas is a raster Surface with a transparent background.
type Canvas struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewCanvas returns an empty canvas of DefaultVideoSize.
func NewCanvas() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, DefaultVideoSize.W, DefaultVideoSize.H))}
}

// Apply draws cmds in order.
func (c *Canvas) Apply(cmds []Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range cmds {
		switch cmd.Op {
		case OpClear:
			c.clearLocked(Size{W: cmd.W, H: cmd.H})
		case OpStrokeRect:
			c.strokeRectLocked(cmd.X, cmd.Y, cmd.W, cmd.H)
		case OpFillText:
			c.fillTextLocked(cmd.X, cmd.Y, cmd.Text)
		}
	}
}

func (c *Canvas) clearLocked(size Size) {
	if !size.Valid() {
		size = DefaultVideoSize
	}
	b := c.img.Bounds()
	if b.Dx() != size.W || b.Dy() != size.H {
		c.img = image.NewRGBA(image.Rect(0, 0, size.W, size.H))
		return
	}
	draw.Draw(c.img, b, image.Transparent, image.Point{}, draw.Src)
}

func (c *Canvas) strokeRectLocked(x, y, w, h int) {
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(x, y, x+w, y+lineWidth),     // top
		image.Rect(x, y+h-lineWidth, x+w, y+h), // bottom
		image.Rect(x, y, x+lineWidth, y+h),     // left
		image.Rect(x+w-lineWidth, y, x+w, y+h), // right
	}
	for _, e := range edges {
		draw.Draw(c.img, e, src, image.Point{}, draw.Src)
	}
}

func (c *Canvas) fillTextLocked(x, y int, text string) {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// Size returns the current surface size.
func (c *Canvas) Size() Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return Size{W: b.Dx(), H: b.Dy()}
}

// Image returns a copy of the overlay layer.
func (c *Canvas) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := image.NewRGBA(c.img.Bounds())
	draw.Draw(out, out.Bounds(), c.img, image.Point{}, draw.Src)
	return out
}

// Composite scales the encoded frame to the canvas size, draws the overlay on
// top and returns the result as JPEG.
func (c *Canvas) Composite(frame []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	layer := c.Image()
	dst := image.NewRGBA(layer.Bounds())
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	draw.Draw(dst, dst.Bounds(), layer, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}
