package pid

import (
	"math"
	"time"
)

// #region config
// PIDConfig holds the gains and guards for a Controller.
type PIDConfig struct {
	Kp          float64
	Ki          float64
	Kd          float64
	SetPoint    float64       // target measurement, dB of SNR
	WindupGuard float64       // |I| never exceeds this
	MinInterval time.Duration // updates closer together than this are ignored
}

// DefaultPIDConfig returns the reference SNR regulator.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:          0.2,
		Ki:          0.1,
		Kd:          0.01,
		SetPoint:    20,
		WindupGuard: 20,
		MinInterval: 10 * time.Millisecond,
	}
}

// #endregion config

// #region terms
// Terms is the breakdown of the last computed output.
type Terms struct {
	P float64
	I float64 // accumulated integral, before Ki
	D float64 // error slope, before Kd
}

// #endregion terms

// #region controller
// Controller is a single-loop PID regulator. It is not safe for concurrent use.
type Controller struct {
	config PIDConfig

	terms     Terms
	lastError float64
	lastTime  time.Time
	output    float64
}

// New creates a controller whose time baseline is now.
func New(config PIDConfig, now time.Time) *Controller {
	c := &Controller{config: config}
	c.SetPoint(config.SetPoint, now)
	return c
}

// Config returns the current configuration, including the active set point.
func (c *Controller) Config() PIDConfig {
	return c.config
}

// SetPoint sets a new target and clears all accumulated state. The time
// baseline moves to now so the next update measures from the change.
func (c *Controller) SetPoint(target float64, now time.Time) {
	c.config.SetPoint = target
	c.terms = Terms{}
	c.lastError = 0
	c.output = 0
	c.lastTime = now
}

// Update feeds one measurement. It returns the output and whether it was
// recomputed; calls within MinInterval of the last accepted one are no-ops.
func (c *Controller) Update(measurement float64, now time.Time) (float64, bool) {
	dt := now.Sub(c.lastTime)
	if dt < c.config.MinInterval || dt <= 0 {
		return c.output, false
	}
	secs := dt.Seconds()
	err := c.config.SetPoint - measurement

	c.terms.P = c.config.Kp * err
	c.terms.I += err * secs
	if g := c.config.WindupGuard; g > 0 {
		c.terms.I = math.Max(-g, math.Min(g, c.terms.I))
	}
	c.terms.D = (err - c.lastError) / secs

	c.lastTime = now
	c.lastError = err
	c.output = c.terms.P + c.config.Ki*c.terms.I + c.config.Kd*c.terms.D
	return c.output, true
}

// Output returns the last computed output.
func (c *Controller) Output() float64 { return c.output }

// Terms returns the last computed terms.
func (c *Controller) Terms() Terms { return c.terms }

// Integral returns the accumulated integral term.
func (c *Controller) Integral() float64 { return c.terms.I }

// LastError returns the error from the last accepted update.
func (c *Controller) LastError() float64 { return c.lastError }

// #endregion controller
