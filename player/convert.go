package player

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Ramp is an ordered set of glyphs from darkest to lightest
type Ramp []rune

// Built-in glyph ramps
var (
	RampClassic  = Ramp(" .,:;i1tfLCG08@")
	RampSimple   = Ramp(" .:-=+*#%@")
	RampStandard = Ramp(" .`^\",:;Il!i><~+_-?][}{1)(|/tfjrxnuvczXYUJCLQ0OZmwqpdbkhao*#MW&8%B@$")
	RampExtended = Ramp(" .'`^\",:;Il!i><~+_-?][}{1)(|\\/tfjrxnuvczXYUJCLQ0OZmwqpdbkhao*#MW&8%B@$░▒▓█")
)

var ramps = map[string]Ramp{
	"classic":  RampClassic,
	"simple":   RampSimple,
	"standard": RampStandard,
	"extended": RampExtended,
}

// RampNames lists the built-in ramp names in sorted order
func RampNames() []string {
	names := make([]string, 0, len(ramps))
	for name := range ramps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RampByName looks up a built-in ramp
func RampByName(name string) (Ramp, error) {
	r, ok := ramps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown charset %q; valid values: %s", name, strings.Join(RampNames(), ", "))
	}
	return r, nil
}

// Converter maps RGB frames to character grids. It holds no mutable state
// and is safe for concurrent use.
type Converter struct {
	ramp    Ramp
	invert  bool
	color   bool
	reverse bool

	contrast   float64
	brightness float64
}

// ConverterOption configures a Converter
type ConverterOption func(*Converter)

// WithInvert flips brightness before picking a glyph
func WithInvert(invert bool) ConverterOption {
	return func(c *Converter) { c.invert = invert }
}

// WithColor keeps the block-average colour in every cell
func WithColor(color bool) ConverterOption {
	return func(c *Converter) { c.color = color }
}

// WithReverseVideo marks every cell inverted
func WithReverseVideo(reverse bool) ConverterOption {
	return func(c *Converter) { c.reverse = reverse }
}

// WithContrast scales brightness around mid-grey. 1.0 is neutral; values
// are clamped to [0, 2].
func WithContrast(contrast float64) ConverterOption {
	return func(c *Converter) { c.contrast = math.Max(0, math.Min(2, contrast)) }
}

// WithBrightness shifts brightness after contrast, clamped to [-1, 1]
func WithBrightness(brightness float64) ConverterOption {
	return func(c *Converter) { c.brightness = math.Max(-1, math.Min(1, brightness)) }
}

// NewConverter creates a converter for ramp. An empty ramp selects RampClassic.
func NewConverter(ramp Ramp, opts ...ConverterOption) *Converter {
	if len(ramp) == 0 {
		ramp = RampClassic
	}
	c := &Converter{ramp: ramp, contrast: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Adjust applies contrast and brightness to a normalized luminance and
// clamps the result to [0, 1]
func (c *Converter) Adjust(lum float64) float64 {
	v := (lum-0.5)*c.contrast + 0.5 + c.brightness
	return math.Max(0, math.Min(1, v))
}

// Glyph returns the ramp glyph for a normalized brightness in [0, 1]
func (c *Converter) Glyph(brightness float64) rune {
	if c.invert {
		brightness = 1 - brightness
	}
	last := len(c.ramp) - 1
	idx := int(brightness * float64(last))
	if idx < 0 {
		idx = 0
	} else if idx > last {
		idx = last
	}
	return c.ramp[idx]
}

// Convert downsamples f to a w x h grid by block averaging and picks a glyph
// per block from its luminance.
func (c *Converter) Convert(f *RawFrame, w, h int) (*AsciiFrame, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrInvalidDimensions, w, h)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.RGB) < f.Width*f.Height*3 {
		return nil, fmt.Errorf("%w: frame %d is %dx%d with %d bytes", ErrInvalidDimensions, f.Index, f.Width, f.Height, len(f.RGB))
	}

	var attr Attr
	if c.color {
		attr |= AttrColor
	}
	if c.reverse {
		attr |= AttrInverted
	}

	out := &AsciiFrame{
		Index:  f.Index,
		Width:  w,
		Height: h,
		Cells:  make([]Cell, w*h),
	}

	stride := f.Width * 3
	for cy := 0; cy < h; cy++ {
		y0, y1 := blockSpan(cy, h, f.Height)
		for cx := 0; cx < w; cx++ {
			x0, x1 := blockSpan(cx, w, f.Width)

			var r, g, b, n int
			for y := y0; y < y1; y++ {
				row := f.RGB[y*stride:]
				for x := x0; x < x1; x++ {
					r += int(row[x*3])
					g += int(row[x*3+1])
					b += int(row[x*3+2])
					n++
				}
			}
			r, g, b = r/n, g/n, b/n

			// Rec. 709 luma
			lum := (0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)) / 255

			out.Cells[cy*w+cx] = Cell{
				Glyph: c.Glyph(c.Adjust(lum)),
				Attr:  attr,
				R:     uint8(r),
				G:     uint8(g),
				B:     uint8(b),
			}
		}
	}
	return out, nil
}

// blockSpan returns the source pixel range [lo, hi) covered by cell i of n
// over size pixels. Every cell covers at least one pixel.
func blockSpan(i, n, size int) (lo, hi int) {
	lo = i * size / n
	hi = (i + 1) * size / n
	if hi <= lo {
		hi = lo + 1
	}
	if hi > size {
		lo, hi = size-1, size
	}
	return lo, hi
}

// ConvertAll converts frames in parallel on at most workers goroutines.
// Results keep the order of frames.
func (c *Converter) ConvertAll(ctx context.Context, frames []*RawFrame, w, h, workers int) ([]*AsciiFrame, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]*AsciiFrame, len(frames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			af, err := c.Convert(f, w, h)
			if err != nil {
				return err
			}
			out[i] = af
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
