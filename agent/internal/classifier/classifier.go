package classifier

const (
	// WindowSize is the number of recent samples the model is fit on.
	WindowSize = 100

	// MinSamples is the number of samples needed before the first fit.
	MinSamples = 10

	// StabilityThreshold is the run of agreeing raw classifications needed
	// to move between Low and High.
	StabilityThreshold = 3

	// MaxRTT is the largest accepted reading in ms.
	MaxRTT = 10000.0
)

// State is the stabilized classification of a target.
type State string

const (
	StateCalibrating State = "calibrating"
	StateLow         State = "low"
	StateHigh        State = "high"
)

// Stats is a read-only snapshot of the model for export and display.
type Stats struct {
	LowCentroid  float64
	HighCentroid float64
	Threshold    float64
	Confidence   float64
	SampleCount  int
}

// Classifier is the per-target adaptive threshold engine.
type Classifier struct {
	window *window
	model  Model

	current         State
	consecutiveLow  int
	consecutiveHigh int
}

// New returns a Classifier in the Calibrating state with an empty window.
func New() *Classifier {
	c := &Classifier{window: newWindow(WindowSize)}
	c.Reset()
	return c
}

// Valid reports whether rtt is an acceptable reading: finite and in (0, MaxRTT].
func Valid(rtt float64) bool {
	return rtt > 0 && rtt <= MaxRTT
}

// AddMeasurement ingests one RTT reading in milliseconds. Invalid readings are
// dropped without any effect. Once MinSamples are held, the model is refit
// from scratch on every accepted reading.
func (c *Classifier) AddMeasurement(rtt float64) {
	if !Valid(rtt) {
		return
	}
	c.window.Add(rtt)
	if c.window.Len() >= MinSamples {
		c.model = fit(c.window.Values())
	}
}

// DetermineState classifies rtt against the current threshold and returns the
// stabilized state. It reports Calibrating, without touching the hysteresis
// counters, until the model has been fit.
//
// Leaving Calibrating takes a single raw classification; every later change
// between Low and High takes StabilityThreshold consecutive ones.
func (c *Classifier) DetermineState(rtt float64) State {
	if c.window.Len() < MinSamples || !c.model.Fitted() {
		return StateCalibrating
	}

	raw := StateHigh
	if rtt < c.model.Threshold {
		raw = StateLow
	}

	if raw == StateLow {
		c.consecutiveLow++
		c.consecutiveHigh = 0
	} else {
		c.consecutiveHigh++
		c.consecutiveLow = 0
	}

	switch {
	case raw == StateLow && c.consecutiveLow >= StabilityThreshold:
		c.current = StateLow
	case raw == StateHigh && c.consecutiveHigh >= StabilityThreshold:
		c.current = StateHigh
	}

	if c.current == StateCalibrating {
		c.current = raw
	}
	return c.current
}

// Current returns the stabilized state without classifying a new sample.
func (c *Classifier) Current() State {
	return c.current
}

// Model returns the current model.
func (c *Classifier) Model() Model {
	return c.model
}

// DebugStats returns the model parameters and the window length.
func (c *Classifier) DebugStats() Stats {
	return Stats{
		LowCentroid:  c.model.LowCentroid,
		HighCentroid: c.model.HighCentroid,
		Threshold:    c.model.Threshold,
		Confidence:   c.model.Confidence,
		SampleCount:  c.window.Len(),
	}
}

// Samples returns the window contents, oldest first.
func (c *Classifier) Samples() []float64 {
	return c.window.Values()
}

// Reset returns the classifier to its construction-time state.
func (c *Classifier) Reset() {
	c.window.Clear()
	c.model = Model{}
	c.current = StateCalibrating
	c.consecutiveLow = 0
	c.consecutiveHigh = 0
}
