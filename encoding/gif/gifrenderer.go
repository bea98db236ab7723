package gif

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/vrbound"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Epoch 100000, bound -1000.000`
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// globPalette is 64 levels of gray, dark to light.
var globPalette = func() color.Palette {
	p := make(color.Palette, 64)
	for i := range p {
		p[i] = color.Gray{uint8(i * 255 / 63)}
	}
	return p
}()

// Encoder is a structure that encodes a training snapshot according to the
// vrbound.OutputEncoder interface. Every snapshot becomes a frame: the originals on the
// top row, their reconstructions below, and a caption.
type Encoder struct {
	H, W  int
	Scale int // pixels per feature
	font.Drawer

	out *gif.GIF
	io.Writer
	face font.Face

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	initialized bool
}

// NewGifEncoder with height and width
func NewGifEncoder(h, w int) *Encoder {
	return &Encoder{
		H:     -1,
		W:     -1,
		Scale: 8,
		maxH:  h,
		maxW:  w,
		padH:  10,
		padW:  10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
		out: &gif.GIF{LoopCount: 0},
	}
}

// Encode a snapshot
func (enc *Encoder) Encode(s vrbound.Snapshot) error {
	if len(s.Originals) != len(s.Reconstructions) {
		return errors.Errorf("%d originals but %d reconstructions", len(s.Originals), len(s.Reconstructions))
	}
	if len(s.Originals) == 0 {
		return errors.New("nothing to draw")
	}
	h, w := s.Height, s.Width
	if h*w == 0 {
		h, w = 1, len(s.Originals[0])
	}
	tileH, tileW := h*enc.Scale, w*enc.Scale
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))

	if !enc.initialized {
		// lazy init of specifications
		enc.face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.Drawer.Src = image.Black
		enc.Drawer.Face = enc.face

		tiles := len(s.Originals)*(tileW+enc.padW) - enc.padW
		maxW := maxInt(tiles, font.MeasureString(enc.Face, dummyLongString).Ceil())
		w := maxW + 2*enc.padW
		h := 2*(tileH+enc.padH) + 2*dy + 2*enc.padH // two rows of tiles, two lines of text

		w = minInt(w, enc.maxW)
		h = minInt(h, enc.maxH)

		if w == enc.maxW {
			enc.padW = 0
		}
		if h == enc.maxH {
			enc.padH = 0
		}

		enc.H = h
		enc.W = w
		enc.initialized = true
	}

	bg := image.White
	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), bg, image.Point{}, draw.Src)

	y := enc.padH
	for r, rows := range [][][]float32{s.Originals, s.Reconstructions} {
		x := enc.padW
		for i, row := range rows {
			if err := enc.drawTile(im, row, h, w, x, y); err != nil {
				return errors.WithMessagef(err, "row %d, tile %d", r, i)
			}
			x += tileW + enc.padW
		}
		y += tileH + enc.padH
	}

	enc.Dst = im
	y += dy
	enc.Dot = fixed.P(enc.padW, y)
	enc.DrawString(s.Name)
	y += dy

	enc.Dot = fixed.P(enc.padW, y)
	enc.DrawString(fmt.Sprintf("Epoch %d, bound %.3f", s.Epoch, s.Bound))

	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, 50)
	return nil
}

// drawTile paints one h×w observation with its top left corner at (x, y). Values are
// clamped into [0, 1], 0 being black.
func (enc *Encoder) drawTile(im *image.Paletted, row []float32, h, w, x, y int) error {
	img, err := vrbound.MakeImage(row, h, w)
	if err != nil {
		return err
	}
	defer vrbound.ReturnImage(h, w, img)

	for i, line := range img {
		for j, v := range line {
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			c := uint8(math.Round(float64(v) * float64(len(globPalette)-1)))
			rect := image.Rect(x+j*enc.Scale, y+i*enc.Scale, x+(j+1)*enc.Scale, y+(i+1)*enc.Scale)
			draw.Draw(im, rect.Intersect(im.Bounds()), &image.Uniform{globPalette[c]}, image.Point{}, draw.Src)
		}
	}
	return nil
}

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if enc.Writer == nil {
		return errors.New("no writer to flush to")
	}
	return gif.EncodeAll(enc.Writer, enc.out)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
