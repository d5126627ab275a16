package vidhi

import (
	"math"
	"math/rand"
)

// sampleBeta draws u ~ Beta(alpha, beta) as X/(X+Y) with X ~ Gamma(alpha,1)
// and Y ~ Gamma(beta,1). Caller holds e.mu.
func (e *Engine) sampleBeta(alpha, beta float64) float64 {
	x := sampleGamma(e.rng, alpha)
	y := sampleGamma(e.rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang. Shapes below
// one are boosted via Gamma(a) = Gamma(a+1) * U^(1/a).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		return sampleGamma(rng, shape+1) * math.Pow(rng.Float64(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
