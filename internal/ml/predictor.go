// Package ml hosts the process-wide trade filter: a logistic model loaded
// from a serialized bundle. When no model can be loaded the predictor runs
// disabled and answers a neutral 0.5 for every input.
package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"trading_bot/internal/core"
)

// Predictor states
const (
	StateReady    = "ready"
	StateDisabled = "disabled"
)

// Recommendations and confidence labels
const (
	RecStrongBuy = "STRONG_BUY"
	RecBuy       = "BUY"
	RecHold      = "HOLD"
	RecAvoid     = "AVOID"

	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

// neutralProbability is returned whenever no model is available
const neutralProbability = 0.5

// modelBundle is the serialized form of a trained model
type modelBundle struct {
	Version      string    `json:"version"`
	TrainedAt    string    `json:"trained_at"`
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
}

// Decision is the outcome of filtering one feature vector
type Decision struct {
	Probability    float64 `json:"probability"`
	ShouldTrade    bool    `json:"should_trade"`
	Recommendation string  `json:"recommendation"`
	Confidence     string  `json:"confidence"`
}

// Predictor maps a feature vector to a profit probability
type Predictor struct {
	mu        sync.RWMutex
	modelPath string
	bundle    *modelBundle
	state     string
	threshold float64
	logger    core.ILogger
}

var (
	instance *Predictor
	once     sync.Once
)

// Instance returns the process-wide predictor, creating it on first use
func Instance(modelPath string, threshold float64, logger core.ILogger) *Predictor {
	once.Do(func() {
		instance = NewPredictor(modelPath, threshold, logger)
	})
	return instance
}

// NewPredictor builds a predictor and attempts an initial model load.
// Load failure is not fatal: the predictor starts disabled.
func NewPredictor(modelPath string, threshold float64, logger core.ILogger) *Predictor {
	if threshold < 0 || threshold > 1 {
		threshold = 0.6
	}
	p := &Predictor{
		modelPath: modelPath,
		state:     StateDisabled,
		threshold: threshold,
		logger:    logger.WithField("component", "ml_predictor"),
	}
	if err := p.Reload(); err != nil {
		p.logger.Warn("Model load failed, predictor disabled", "path", modelPath, "error", err)
	}
	return p
}

// Reload re-attempts loading the model bundle from disk
func (p *Predictor) Reload() error {
	data, err := os.ReadFile(p.modelPath)
	if err != nil {
		p.disable()
		return fmt.Errorf("failed to read model bundle: %w", err)
	}

	var bundle modelBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		p.disable()
		return fmt.Errorf("failed to parse model bundle: %w", err)
	}
	if len(bundle.FeatureNames) == 0 || len(bundle.Weights) != len(bundle.FeatureNames) {
		p.disable()
		return fmt.Errorf("malformed model bundle: %d features, %d weights",
			len(bundle.FeatureNames), len(bundle.Weights))
	}

	p.mu.Lock()
	p.bundle = &bundle
	p.state = StateReady
	p.mu.Unlock()

	p.logger.Info("Model loaded", "version", bundle.Version, "trained_at", bundle.TrainedAt,
		"features", len(bundle.FeatureNames))
	return nil
}

func (p *Predictor) disable() {
	p.mu.Lock()
	p.bundle = nil
	p.state = StateDisabled
	p.mu.Unlock()
}

// State reports ready or disabled
func (p *Predictor) State() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Predict scores a feature map. Missing features coerce to 0, NaN coerces
// to 0. A disabled predictor answers the neutral 0.5.
func (p *Predictor) Predict(features map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != StateReady {
		return neutralProbability
	}

	vec := make([]float64, len(p.bundle.FeatureNames))
	for i, name := range p.bundle.FeatureNames {
		v, ok := features[name]
		if !ok || math.IsNaN(v) {
			v = 0
		}
		vec[i] = v
	}
	return p.score(vec)
}

// PredictVector scores a positional vector ordered by the loaded feature
// names. Short vectors are zero-padded; NaN coerces to 0.
func (p *Predictor) PredictVector(vec []float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != StateReady {
		return neutralProbability
	}

	padded := make([]float64, len(p.bundle.FeatureNames))
	for i := range padded {
		if i < len(vec) && !math.IsNaN(vec[i]) {
			padded[i] = vec[i]
		}
	}
	return p.score(padded)
}

// score assumes the read lock is held and the bundle is present
func (p *Predictor) score(vec []float64) float64 {
	z := p.bundle.Intercept
	for i, w := range p.bundle.Weights {
		z += w * vec[i]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// Decide maps a feature vector to a trade decision using the configured
// threshold
func (p *Predictor) Decide(features map[string]float64) Decision {
	proba := p.Predict(features)

	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	d := Decision{
		Probability: proba,
		ShouldTrade: proba >= threshold,
	}

	switch {
	case proba >= 0.7:
		d.Recommendation = RecStrongBuy
		d.Confidence = ConfidenceHigh
	case proba >= 0.6:
		d.Recommendation = RecBuy
		d.Confidence = ConfidenceMedium
	case proba >= 0.4:
		d.Recommendation = RecHold
		d.Confidence = ConfidenceLow
	default:
		d.Recommendation = RecAvoid
		d.Confidence = ConfidenceLow
	}
	return d
}

// SetThreshold updates the decision threshold; t must be in [0, 1]
func (p *Predictor) SetThreshold(t float64) error {
	if t < 0 || t > 1 {
		return fmt.Errorf("threshold %f out of range [0, 1]", t)
	}
	p.mu.Lock()
	p.threshold = t
	p.mu.Unlock()
	return nil
}

// Threshold returns the current decision threshold
func (p *Predictor) Threshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// Info describes the loaded model for /status and the chat surface
func (p *Predictor) Info() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := map[string]interface{}{
		"state":     p.state,
		"threshold": p.threshold,
	}
	if p.bundle != nil {
		info["version"] = p.bundle.Version
		info["trained_at"] = p.bundle.TrainedAt
		info["feature_names"] = p.bundle.FeatureNames
	}
	return info
}
