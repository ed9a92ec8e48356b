package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	imagedraw "image/draw"
	"image/gif"
	"io"
	"os"

	filter "github.com/milosgajdos/go-pfcontrol"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	// DefaultDelay is the default delay between frames in 100ths of a second
	DefaultDelay = 10
	// DefaultDPI is the default frame resolution
	DefaultDPI = 72
	// DefaultSize is the default frame width and height
	DefaultSize = 4 * vg.Inch
)

// ErrNoFrames is returned when encoding an animation without frames
var ErrNoFrames = errors.New("no frames")

// GIFOption configures GIF
type GIFOption func(*GIF)

// WithSize sets frame width and height
func WithSize(w, h vg.Length) GIFOption {
	return func(g *GIF) {
		g.width, g.height = w, h
	}
}

// WithDPI sets frame resolution in dots per inch
func WithDPI(dpi int) GIFOption {
	return func(g *GIF) {
		g.dpi = dpi
	}
}

// WithDelay sets delay between frames in 100ths of a second
func WithDelay(d int) GIFOption {
	return func(g *GIF) {
		g.delay = d
	}
}

// WithBounds fixes the plotted area to [xmin, xmax] x [ymin, ymax].
// The axes are scaled to the data in every frame by default.
func WithBounds(xmin, xmax, ymin, ymax float64) GIFOption {
	return func(g *GIF) {
		g.bounds = &[4]float64{xmin, xmax, ymin, ymax}
	}
}

// WithAxes selects state dimensions plotted on X and Y axes. Default is 0 and 1.
func WithAxes(x, y int) GIFOption {
	return func(g *GIF) {
		g.axes = [2]int{x, y}
	}
}

// GIF is a filter.Sink which renders every frame as a scatter plot
// of the particles and the true state and encodes them as an animated GIF.
type GIF struct {
	width  vg.Length
	height vg.Length
	dpi    int
	delay  int
	bounds *[4]float64
	axes   [2]int
	anim   *gif.GIF
}

var _ filter.Sink = (*GIF)(nil)

// NewGIF creates new GIF sink and returns it.
func NewGIF(opts ...GIFOption) (*GIF, error) {
	g := &GIF{
		width:  DefaultSize,
		height: DefaultSize,
		dpi:    DefaultDPI,
		delay:  DefaultDelay,
		axes:   [2]int{0, 1},
		anim:   &gif.GIF{},
	}

	for _, apply := range opts {
		apply(g)
	}

	if g.width <= 0 || g.height <= 0 || g.dpi <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size: %v x %v at %d dpi", filter.ErrInvalidArg, g.width, g.height, g.dpi)
	}

	if g.delay < 0 {
		return nil, fmt.Errorf("%w: invalid frame delay: %d", filter.ErrInvalidArg, g.delay)
	}

	if g.axes[0] < 0 || g.axes[1] < 0 {
		return nil, fmt.Errorf("%w: invalid axes: %v", filter.ErrInvalidArg, g.axes)
	}

	if b := g.bounds; b != nil && (!(b[0] < b[1]) || !(b[2] < b[3])) {
		return nil, fmt.Errorf("%w: invalid bounds: %v", filter.ErrInvalidArg, *b)
	}

	return g, nil
}

// Frame renders particles stored in matrix columns and the true state
// and appends the result to the animation.
func (g *GIF) Frame(particles mat.Matrix, truth mat.Vector) error {
	if particles == nil || truth == nil {
		return fmt.Errorf("%w: nil frame data", filter.ErrInvalidArg)
	}

	rows, cols := particles.Dims()
	for _, ax := range g.axes {
		if ax >= rows || ax >= truth.Len() {
			return fmt.Errorf("%w: axis %d out of range", filter.ErrInvalidArg, ax)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("step %d", len(g.anim.Image)+1)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	if b := g.bounds; b != nil {
		p.X.Min, p.X.Max = b[0], b[1]
		p.Y.Min, p.Y.Max = b[2], b[3]
	}

	pts := make(plotter.XYs, cols)
	for c := range pts {
		pts[c].X = particles.At(g.axes[0], c)
		pts[c].Y = particles.At(g.axes[1], c)
	}

	particleScatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to create particle scatter: %w", err)
	}
	particleScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	particleScatter.GlyphStyle.Radius = vg.Points(1)
	p.Add(particleScatter)

	truthScatter, err := plotter.NewScatter(plotter.XYs{{X: truth.AtVec(g.axes[0]), Y: truth.AtVec(g.axes[1])}})
	if err != nil {
		return fmt.Errorf("failed to create truth scatter: %w", err)
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, A: 255}
	truthScatter.Shape = draw.CrossGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(5)
	p.Add(truthScatter)

	c := vgimg.NewWith(
		vgimg.UseWH(g.width, g.height),
		vgimg.UseDPI(g.dpi),
	)
	p.Draw(draw.New(c))

	img := c.Image()
	frame := image.NewPaletted(img.Bounds(), palette.Plan9)
	imagedraw.Draw(frame, img.Bounds(), img, img.Bounds().Min, imagedraw.Src)

	g.anim.Image = append(g.anim.Image, frame)
	g.anim.Delay = append(g.anim.Delay, g.delay)

	return nil
}

// Len returns the number of rendered frames
func (g *GIF) Len() int {
	return len(g.anim.Image)
}

// Encode writes the animation to w.
// It returns ErrNoFrames if no frame has been rendered.
func (g *GIF) Encode(w io.Writer) error {
	if g.Len() == 0 {
		return ErrNoFrames
	}

	return gif.EncodeAll(w, g.anim)
}

// Save writes the animation to file path.
func (g *GIF) Save(path string) (err error) {
	if g.Len() == 0 {
		return ErrNoFrames
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return g.Encode(f)
}
