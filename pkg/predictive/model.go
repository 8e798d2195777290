package predictive

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"
)

// Metric names a forecast series
type Metric string

const (
	MetricSignal Metric = "signal"
	MetricSpeed  Metric = "speed"
)

// z-score of a 95% interval
const interval95 = 1.96

var errTooFewPoints = errors.New("not enough points to fit model")

// ARModel is an autoregressive model of order len(Coefficients)-1:
// x[t] = c0 + c1*x[t-1] + ... + cp*x[t-p] + e, e ~ N(0, Sigma^2)
type ARModel struct {
	Metric       Metric    `json:"metric"`
	Order        int       `json:"order"`
	Coefficients []float64 `json:"coefficients"` // intercept first
	Sigma        float64   `json:"sigma"`        // residual standard deviation
	Mean         float64   `json:"mean"`         // mean of the training window
	Samples      int       `json:"samples"`
	TrainedAt    time.Time `json:"trained_at"`
}

// ForecastPoint is one step of a forecast with its 95% interval
type ForecastPoint struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width is the interval width
func (fp ForecastPoint) Width() float64 { return fp.Upper - fp.Lower }

// FitAR fits an AR(order) model to series ordered oldest first. A constant
// series yields a constant model with zero residual.
func FitAR(metric Metric, series []float64, order int, now time.Time) (*ARModel, error) {
	if order < 1 {
		return nil, fmt.Errorf("invalid AR order %d", order)
	}
	if len(series) < 2*order+2 {
		return nil, fmt.Errorf("%w: %d points for order %d", errTooFewPoints, len(series), order)
	}

	mean, variance := stat.PopMeanVariance(series, nil)
	model := &ARModel{
		Metric:       metric,
		Order:        order,
		Coefficients: make([]float64, order+1),
		Mean:         mean,
		Samples:      len(series),
		TrainedAt:    now,
	}
	if variance == 0 {
		model.Coefficients[0] = mean
		return model, nil
	}

	r := new(regression.Regression)
	r.SetObserved(string(metric))
	for lag := 1; lag <= order; lag++ {
		r.SetVar(lag-1, fmt.Sprintf("lag%d", lag))
	}
	for t := order; t < len(series); t++ {
		r.Train(regression.DataPoint(series[t], lags(series[:t], order)))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("AR fit failed: %w", err)
	}

	for i := 0; i <= order; i++ {
		c := r.Coeff(i)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("AR fit produced invalid coefficient %d", i)
		}
		model.Coefficients[i] = c
	}

	var sse float64
	for t := order; t < len(series); t++ {
		e := series[t] - model.step(lags(series[:t], order))
		sse += e * e
	}
	dof := float64(len(series) - order - (order + 1))
	if dof < 1 {
		dof = 1
	}
	model.Sigma = math.Sqrt(sse / dof)
	if math.IsNaN(model.Sigma) || math.IsInf(model.Sigma, 0) {
		return nil, fmt.Errorf("AR fit produced invalid residual")
	}
	return model, nil
}

// Forecast predicts steps values after history (oldest first). The interval
// half width grows as 1.96*Sigma*sqrt(h).
func (m *ARModel) Forecast(history []float64, steps int) ([]ForecastPoint, error) {
	if len(history) < m.Order {
		return nil, fmt.Errorf("%w: need %d history points, got %d", errTooFewPoints, m.Order, len(history))
	}

	window := append([]float64(nil), history[len(history)-m.Order:]...)
	points := make([]ForecastPoint, 0, steps)
	for h := 1; h <= steps; h++ {
		value := m.step(lags(window, m.Order))
		half := interval95 * m.Sigma * math.Sqrt(float64(h))
		points = append(points, ForecastPoint{
			Step:  h,
			Value: value,
			Lower: value - half,
			Upper: value + half,
		})
		window = append(window[1:], value)
	}
	return points, nil
}

// Stale reports whether the model is older than maxAge
func (m *ARModel) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.TrainedAt) > maxAge
}

func (m *ARModel) step(lagged []float64) float64 {
	v := m.Coefficients[0]
	for i, x := range lagged {
		v += m.Coefficients[i+1] * x
	}
	return v
}

// lags returns the last order values of series, most recent first
func lags(series []float64, order int) []float64 {
	out := make([]float64, order)
	n := len(series)
	for i := 0; i < order; i++ {
		out[i] = series[n-1-i]
	}
	return out
}
