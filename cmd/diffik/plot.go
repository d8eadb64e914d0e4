package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// savePlot writes the task error norm per cycle, on a log scale, to a PNG file.
func savePlot(path string, errs []float64, dt float64) error {
	if len(errs) == 0 {
		return errors.New("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "Frame task convergence"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "‖error‖"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	pts := make(plotter.XYs, len(errs))
	for i, e := range errs {
		pts[i].X = float64(i) * dt
		// log scale needs positive values
		pts[i].Y = math.Max(e, 1e-12)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(2)
	p.Add(line, plotter.NewGrid())
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
