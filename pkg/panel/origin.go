package panel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// ErrTooFewPoints is returned when a sphere cannot be determined
var ErrTooFewPoints = errors.New("panel: at least 4 points are needed to fit a sphere")

// DigPoint is one digitized head point in millimetres
type DigPoint struct {
	Kind  string
	Frame model.Frame
	X     float64
	Y     float64
	Z     float64
}

// HeaderReader extracts digitization points from a measurement header
type HeaderReader interface {
	ReadPoints(ctx context.Context, path string) ([]DigPoint, error)
}

// OriginFitter derives an origin from digitization points
type OriginFitter interface {
	Fit(points []DigPoint, frame model.Frame) (model.Origin, float64, error)
}

// PointsFileReader reads a plain-text export of the digitization points.
// Each non-blank line is "kind frame x y z"; lines starting with # are
// skipped.
type PointsFileReader struct{}

// ReadPoints implements HeaderReader
func (PointsFileReader) ReadPoints(ctx context.Context, path string) ([]DigPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open header: %w", err)
	}
	defer f.Close()

	var points []DigPoint
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("%s:%d: expected 5 fields, got %d", path, lineNum, len(fields))
		}
		p := DigPoint{Kind: fields[0], Frame: model.Frame(fields[1])}
		if !p.Frame.IsValid() {
			return nil, fmt.Errorf("%s:%d: unknown frame %q", path, lineNum, fields[1])
		}
		coords := []*float64{&p.X, &p.Y, &p.Z}
		for i, c := range coords {
			v, err := strconv.ParseFloat(fields[2+i], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNum, err)
			}
			*c = v
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return points, nil
}

// SphereFitter fits a sphere to the points of one frame by linear least
// squares and returns its centre.
type SphereFitter struct {
	// ExcludeKinds lists point kinds left out of the fit (e.g. "nasion")
	ExcludeKinds []string
}

// Fit implements OriginFitter. It also returns the fitted radius.
//
// Every point satisfies x²+y²+z² = 2ax + 2by + 2cz + d for centre (a,b,c)
// and d = r² - a² - b² - c², which is linear in (a,b,c,d).
func (s SphereFitter) Fit(points []DigPoint, frame model.Frame) (model.Origin, float64, error) {
	var use []DigPoint
	for _, p := range points {
		if p.Frame != frame || s.excluded(p.Kind) {
			continue
		}
		use = append(use, p)
	}
	if len(use) < 4 {
		return model.Origin{}, 0, fmt.Errorf("%w (have %d in %s frame)", ErrTooFewPoints, len(use), frame)
	}

	a := mat.NewDense(len(use), 4, nil)
	b := mat.NewVecDense(len(use), nil)
	for i, p := range use {
		a.SetRow(i, []float64{2 * p.X, 2 * p.Y, 2 * p.Z, 1})
		b.SetVec(i, p.X*p.X+p.Y*p.Y+p.Z*p.Z)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return model.Origin{}, 0, fmt.Errorf("sphere fit: %w", err)
	}

	o := model.Origin{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	r2 := x.AtVec(3) + o.X*o.X + o.Y*o.Y + o.Z*o.Z
	if r2 <= 0 || math.IsNaN(r2) {
		return model.Origin{}, 0, errors.New("sphere fit: degenerate point layout")
	}
	return o, math.Sqrt(r2), nil
}

func (s SphereFitter) excluded(kind string) bool {
	for _, k := range s.ExcludeKinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}
