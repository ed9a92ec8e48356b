package render

import (
	"fmt"
	"image/color"

	filter "github.com/milosgajdos/go-pfcontrol"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Trajectory creates new plot of the simulated positions from the three data sources:
// truth:    true system positions
// measure:  measured positions
// estimate: filter estimates
// Every row of the data matrices is a single point: the first two columns are its coordinates.
// It returns error if either of the supplied data matrices is nil
// or if it does not have at least 2 columns.
func Trajectory(truth, measure, estimate *mat.Dense) (*plot.Plot, error) {
	if truth == nil || measure == nil || estimate == nil {
		return nil, fmt.Errorf("%w: nil trajectory data", filter.ErrInvalidArg)
	}

	for _, m := range []*mat.Dense{truth, measure, estimate} {
		if _, c := m.Dims(); c < 2 {
			return nil, fmt.Errorf("%w: invalid trajectory data dimensions", filter.ErrInvalidArg)
		}
	}

	p := plot.New()

	p.Title.Text = "Simulation"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthScatter, err := plotter.NewScatter(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(truthScatter)
	p.Legend.Add("truth", truthScatter)

	measScatter, err := plotter.NewScatter(makePoints(measure))
	if err != nil {
		return nil, err
	}
	measScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	measScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(measScatter)
	p.Legend.Add("measurement", measScatter)

	estLine, estScatter, err := plotter.NewLinePoints(makePoints(estimate))
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate line: %w", err)
	}
	estLine.LineStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	estScatter.Shape = draw.CrossGlyph{}
	estScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(estLine, estScatter)
	p.Legend.Add("estimate", estLine, estScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
