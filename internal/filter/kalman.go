// Package filter smooths noisy analog channels.
package filter

// Kalman is a one-dimensional recursive estimator for a single analog channel.
// It is not safe for concurrent use; the control loop is its only caller.
type Kalman struct {
	processVariance float64
	estimate        float64
	errorCovariance float64
	seeded          bool
}

// New returns a filter that seeds its estimate from the first measurement.
func New(processVariance float64) *Kalman {
	return &Kalman{
		processVariance: processVariance,
		errorCovariance: 1,
	}
}

// newWithEstimate returns a filter starting from a known estimate and error covariance.
func newWithEstimate(processVariance, estimate, errorCovariance float64) *Kalman {
	return &Kalman{
		processVariance: processVariance,
		estimate:        estimate,
		errorCovariance: errorCovariance,
		seeded:          true,
	}
}

// Read folds one raw measurement into the estimate and returns the new estimate.
// measurementVariance is the caller's confidence in this particular reading.
func (k *Kalman) Read(raw, measurementVariance float64) float64 {
	if !k.seeded {
		k.estimate = raw
		k.seeded = true
	}

	// Predict: the state is modelled as constant, so only uncertainty grows.
	predicted := k.errorCovariance + k.processVariance

	// Update
	gain := predicted / (predicted + measurementVariance)
	k.estimate += gain * (raw - k.estimate)
	k.errorCovariance = (1 - gain) * predicted

	return k.estimate
}
