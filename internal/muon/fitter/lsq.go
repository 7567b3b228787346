package fitter

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// msCoefficient is the multiple-scattering displacement per unit path
// and inverse momentum (MeV), for the spectrometer's integrated material.
const msCoefficient = 5.5

// LeastSquaresFit is a weighted linear least-squares trajectory fit.
//
// Around a reference state (P0, d) every measurement is projected on its
// measurement direction w (the bending axis u for eta hits, the azimuthal
// axis v for phi hits, orthogonalised against the element axis for real
// hits). The model offset at path s is (a0 + a1·s + a2·s²)·u + (b0 + b1·s)·v;
// a2 is only fitted for curved tracks. The reference is moved by the
// linear terms and the fit repeated until the update is negligible.
type LeastSquaresFit struct {
	MaxIterations int
	Tolerance     float64 // mm
	MinMomentum   float64
	MaxMomentum   float64
}

// NewLeastSquaresFit returns a fit with production iteration settings.
func NewLeastSquaresFit(cfg Config) *LeastSquaresFit {
	return &LeastSquaresFit{MaxIterations: 5, Tolerance: 1e-3, MinMomentum: cfg.MinMomentum, MaxMomentum: cfg.MaxMomentum}
}

type lsqRow struct {
	hit    *muon.Hit
	w      r3.Vec
	sigma  float64
	active bool
}

// measurementDirection returns w for h, or false when the hit cannot
// constrain the fit in this frame.
func measurementDirection(h *muon.Hit, u, v r3.Vec) (r3.Vec, bool) {
	base := u
	if h.MeasuresPhi() {
		base = v
	}
	if h.IsPseudo() || r3.Norm(h.Element.Axis) == 0 {
		return base, true
	}
	a := r3.Unit(h.Element.Axis)
	w := r3.Sub(base, r3.Scale(r3.Dot(base, a), a))
	n := r3.Norm(w)
	if n < 0.3 {
		return r3.Vec{}, false
	}
	return r3.Scale(1/n, w), true
}

// pathAtHit returns the path length along the line (p0, dir) at its
// closest approach to the hit's element axis. Hits carry no coordinate
// along their element, so the plain projection of the position is off by
// the unknown offset along the axis.
func pathAtHit(h *muon.Hit, p0, dir r3.Vec) float64 {
	d := r3.Sub(h.Position, p0)
	along := r3.Dot(d, dir)
	if h.IsPseudo() || r3.Norm(h.Element.Axis) == 0 {
		return along
	}
	a := r3.Unit(h.Element.Axis)
	b := r3.Dot(a, dir)
	denom := 1 - b*b
	if denom < 1e-6 {
		return along
	}
	lambda := (b*along - r3.Dot(d, a)) / denom
	return along + lambda*b
}

// Fit implements TrackFitService.
func (f *LeastSquaresFit) Fit(start muon.Parameters, hits []*muon.Hit, opts FitOptions) *muon.Track {
	if len(hits) == 0 || r3.Norm(start.Direction) == 0 {
		return nil
	}
	nPar := 4
	if opts.Curved {
		nPar = 5
	}
	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = 5
	}

	pars := start.Clone()
	pars.Direction = r3.Unit(pars.Direction)
	momentum := 0.0
	if pars.QOverP != 0 {
		momentum = math.Abs(1 / pars.QOverP)
	}

	var (
		x    *mat.VecDense
		cov  mat.SymDense
		rows []lsqRow
	)
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		u, v := pars.BendingAxis(), pars.AzimuthalAxis()
		rows = rows[:0]
		for _, h := range hits {
			w, ok := measurementDirection(h, u, v)
			sigma := h.Error(opts.Precise)
			if ok && opts.Material && opts.Hypothesis == Muon && momentum > 0 {
				s := pathAtHit(h, pars.Position, pars.Direction)
				ms := msCoefficient * math.Abs(s) / momentum
				sigma = math.Hypot(sigma, ms)
			}
			rows = append(rows, lsqRow{
				hit:    h,
				w:      w,
				sigma:  sigma,
				active: ok && sigma > 0 && h.Status != muon.HitOutlier,
			})
		}

		nActive := 0
		for _, r := range rows {
			if r.active {
				nActive++
			}
		}
		if nActive <= nPar {
			tracef("lsq: %d active measurements for %d parameters", nActive, nPar)
			return nil
		}

		a := mat.NewDense(nActive, nPar, nil)
		y := mat.NewVecDense(nActive, nil)
		i := 0
		for _, r := range rows {
			if !r.active {
				continue
			}
			d := r3.Sub(r.hit.Position, pars.Position)
			s := pathAtHit(r.hit, pars.Position, pars.Direction)
			wt := 1 / r.sigma
			uw, vw := r3.Dot(u, r.w), r3.Dot(v, r.w)
			a.Set(i, 0, uw*wt)
			a.Set(i, 1, s*uw*wt)
			col := 2
			if opts.Curved {
				a.Set(i, 2, s*s*uw*wt)
				col = 3
			}
			a.Set(i, col, vw*wt)
			a.Set(i, col+1, s*vw*wt)
			y.SetVec(i, r3.Dot(r3.Sub(d, r3.Scale(s, pars.Direction)), r.w)*wt)
			i++
		}

		var ata mat.SymDense
		ata.SymOuterK(1, a.T())
		var chol mat.Cholesky
		if ok := chol.Factorize(&ata); !ok {
			tracef("lsq: normal matrix not positive definite")
			return nil
		}
		var aty mat.VecDense
		aty.MulVec(a.T(), y)
		x = mat.NewVecDense(nPar, nil)
		if err := chol.SolveVecTo(x, &aty); err != nil {
			tracef("lsq: solve failed: %v", err)
			return nil
		}
		if err := chol.InverseTo(&cov); err != nil {
			tracef("lsq: covariance inversion failed: %v", err)
			return nil
		}

		a0, a1 := x.AtVec(0), x.AtVec(1)
		b0, b1 := x.AtVec(nPar-2), x.AtVec(nPar-1)
		if math.IsNaN(a0) || math.IsNaN(b0) || math.IsNaN(a1) || math.IsNaN(b1) {
			return nil
		}
		if math.Abs(a0) < f.Tolerance && math.Abs(b0) < f.Tolerance &&
			math.Abs(a1) < 1e-8 && math.Abs(b1) < 1e-8 {
			converged = true
			break
		}
		pars.Position = r3.Add(pars.Position, r3.Add(r3.Scale(a0, u), r3.Scale(b0, v)))
		pars.Direction = r3.Unit(r3.Add(pars.Direction, r3.Add(r3.Scale(a1, u), r3.Scale(b1, v))))
	}
	if !converged {
		// The last update was applied; the linear terms of one more pass
		// are what remains and are folded into the residuals below.
		tracef("lsq: no convergence after %d iterations", maxIter)
	}

	a2 := 0.0
	if opts.Curved {
		a2 = x.AtVec(2)
		if opts.FieldTesla > 0 {
			kappa := 2 * a2
			qOverP := kappa / (0.3 * opts.FieldTesla)
			p := clampMomentum(math.Abs(1/qOverP), f.MinMomentum, f.MaxMomentum)
			pars.QOverP = math.Copysign(1/p, qOverP)
			pars.HasMomentum = true
		}
	}

	// Residuals against the final state and curvature. Outliers get a
	// residual too so cleaners can reconsider them.
	u := pars.BendingAxis()
	out := make([]*muon.Hit, 0, len(rows))
	pulls := make([]float64, 0, len(rows))
	for _, r := range rows {
		h := r.hit.Clone()
		d := r3.Sub(h.Position, pars.Position)
		s := pathAtHit(h, pars.Position, pars.Direction)
		pred := r3.Add(r3.Scale(s, pars.Direction), r3.Scale(a2*s*s, u))
		h.PathAtHit = s
		if r.w != (r3.Vec{}) && r.sigma > 0 {
			h.Residual = r3.Dot(r3.Sub(d, pred), r.w)
			h.Pull = h.Residual / r.sigma
		}
		if r.active {
			pulls = append(pulls, h.Pull)
		}
		out = append(out, h)
	}
	chi2 := floats.Dot(pulls, pulls)
	nActive := len(pulls)
	pars.Cov = trackCovariance(&cov, opts, start)
	track := muon.NewTrack(pars, muon.NewHitList(pars.Line(), out), chi2, nActive-nPar)
	track.Curved = opts.Curved
	return track
}

// trackCovariance maps the fit covariance onto the five track parameters
// (bending offset, azimuthal offset, two angles, q/p).
func trackCovariance(c *mat.SymDense, opts FitOptions, start muon.Parameters) *mat.SymDense {
	out := mat.NewSymDense(5, nil)
	idx := []int{0, 3, 1, 4} // a0, b0, a1, b1
	if !opts.Curved {
		idx = []int{0, 2, 1, 3}
	}
	for i, pi := range idx {
		for j, pj := range idx {
			if j < i {
				continue
			}
			out.SetSym(i, j, c.At(pi, pj))
		}
	}
	switch {
	case opts.Curved && opts.FieldTesla > 0:
		scale := 2 / (0.3 * opts.FieldTesla)
		out.SetSym(4, 4, c.At(2, 2)*scale*scale)
	case start.Cov != nil && start.Cov.SymmetricDim() == 5:
		out.SetSym(4, 4, start.Cov.At(4, 4))
	default:
		out.SetSym(4, 4, 1)
	}
	return out
}

// Residual returns the signed distance of h from the trajectory described
// by pars along the hit's measurement direction, and the path length at
// the hit. Curvature is taken from QOverP when curved and the field is on.
func Residual(pars muon.Parameters, curved bool, fieldTesla float64, h *muon.Hit) (res, s float64, ok bool) {
	u, v := pars.BendingAxis(), pars.AzimuthalAxis()
	w, ok := measurementDirection(h, u, v)
	if !ok {
		return 0, 0, false
	}
	a2 := 0.0
	if curved && pars.HasMomentum && fieldTesla > 0 {
		a2 = 0.5 * pars.QOverP * 0.3 * fieldTesla
	}
	d := r3.Sub(h.Position, pars.Position)
	s = pathAtHit(h, pars.Position, pars.Direction)
	pred := r3.Add(r3.Scale(s, pars.Direction), r3.Scale(a2*s*s, u))
	return r3.Dot(r3.Sub(d, pred), w), s, true
}
