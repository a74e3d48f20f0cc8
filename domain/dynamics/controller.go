package dynamics

// Controller adjusts lambda1 every Interval updates once Warmup updates have
// accumulated, driving mean recent coherence toward Target.
type Controller struct {
	Kp        float64
	Ki        float64
	Target    float64
	LambdaMin float64
	LambdaMax float64
	Interval  int
	Warmup    int
	// WindowSize is how many recent coherence samples feed the error term.
	WindowSize int
}

// DefaultController returns the standard controller configuration.
func DefaultController() Controller {
	return Controller{
		Kp:         0.5,
		Ki:         0.05,
		Target:     0.55,
		LambdaMin:  0.09,
		LambdaMax:  0.30,
		Interval:   10,
		Warmup:     100,
		WindowSize: 10,
	}
}

// Due reports whether an adjustment should run at this update count.
func (c Controller) Due(updateCount int) bool {
	if c.Interval <= 0 {
		return false
	}
	return updateCount > c.Warmup && updateCount%c.Interval == 0
}

// Adjust computes the next lambda1 and integral. The integral accumulates
// unconditionally; antiwindup is by clipping the output only.
func (c Controller) Adjust(lambda1, integral float64, coherenceHistory []float64) (float64, float64) {
	window := coherenceHistory
	if c.WindowSize > 0 && len(window) > c.WindowSize {
		window = window[len(window)-c.WindowSize:]
	}
	if len(window) == 0 {
		return lambda1, integral
	}

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))

	e := c.Target - mean
	integral += e
	next := Clip(lambda1+c.Kp*e+c.Ki*integral, c.LambdaMin, c.LambdaMax)
	return next, integral
}
