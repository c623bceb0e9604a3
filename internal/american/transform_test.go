package american

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

type constantInterpolant float64

func (c constantInterpolant) Value(float64) float64 { return float64(c) }

func basePut() Params {
	return Params{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
}

// basePut has r > q, so X = K and every b in (0, K) round-trips. When q > r
// the band is (0, X) with X < K; see TestTransformXMaxBelowStrike.
func TestTransformRoundTrip(t *testing.T) {
	p := basePut()
	tr := NewTransform(p)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		b := p.Strike * (boundaryFloor + (1-boundaryFloor)*rng.Float64())
		tau := p.Maturity * rng.Float64()

		got := tr.ToBoundary(tr.FromBoundary(b))
		assert.InEpsilon(t, b, got, 1e-6, "b=%g tau=%g", b, tau)

		z := tr.Z(tau)
		assert.InDelta(t, tau, tr.Tau(z), 1e-14)
	}
}

func TestTransformClamps(t *testing.T) {
	p := basePut()
	tr := NewTransform(p)

	assert.Equal(t, 0.0, tr.FromBoundary(2*p.Strike))
	assert.Equal(t, 0.0, tr.FromBoundary(math.NaN()))
	assert.InDelta(t, math.Pow(math.Log(boundaryFloor), 2), tr.FromBoundary(0), 1e-9)
	assert.Equal(t, p.Strike, tr.ToBoundary(-5))
	assert.InDelta(t, boundaryFloor*p.Strike, tr.ToBoundary(1e6), 1e-15)

	assert.Equal(t, -1.0, tr.Z(-1))
	assert.Equal(t, 1.0, tr.Z(5))
}

func TestTransformXMaxBelowStrike(t *testing.T) {
	p := basePut()
	p.Rate, p.Dividend = 0.02, 0.05
	tr := NewTransform(p)

	assert.InDelta(t, 40, tr.XMax(), 1e-12)
	assert.InDelta(t, 40, tr.ToBoundary(tr.FromBoundary(70)), 1e-12)
	assert.InEpsilon(t, 25.0, tr.ToBoundary(tr.FromBoundary(25)), 1e-9)

	// values between X and K are clamped to X; below X they round-trip
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		b := tr.XMax() * (boundaryFloor + (1-boundaryFloor)*rng.Float64())
		assert.InEpsilon(t, b, tr.ToBoundary(tr.FromBoundary(b)), 1e-6, "b=%g", b)

		above := tr.XMax() + (p.Strike-tr.XMax())*rng.Float64()
		assert.InDelta(t, tr.XMax(), tr.ToBoundary(tr.FromBoundary(above)), 1e-12, "b=%g", above)
	}
}

func TestPerpetualBoundary(t *testing.T) {
	p := basePut()
	tr := NewTransform(p)
	assert.InDelta(t, 55.45794, tr.Perpetual(), 1e-4)

	p.Volatility = 0
	assert.InDelta(t, 50, perpetualPutBoundary(p, 100), 1e-12)
}

func TestBoundaryFunctionLimits(t *testing.T) {
	p := basePut()
	tr := NewTransform(p)
	b := tr.Boundary(constantInterpolant(0.09))

	assert.Equal(t, tr.XMax(), b(0))
	assert.Equal(t, tr.XMax(), b(1e-14))
	assert.InDelta(t, 100*math.Exp(-0.3), b(0.5), 1e-12)
	assert.Equal(t, tr.Perpetual(), b(1.5))

	broken := tr.Boundary(constantInterpolant(math.NaN()))
	for _, tau := range []float64{0.1, 0.5, 0.9} {
		want := (1-tau)*tr.XMax() + tau*tr.Perpetual()
		assert.InDelta(t, want, broken(tau), 1e-12)
	}
}
