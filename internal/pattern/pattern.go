// Package pattern learns the operator's weekly activity rhythm from usage
// samples and predicts upcoming idle windows.
package pattern

import (
	"sync"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Probability thresholds classifying an interval.
const (
	// ActiveThreshold marks a bucket where the operator is likely present.
	ActiveThreshold = 0.5
	// IdleThreshold marks a bucket considered reliably idle.
	IdleThreshold = 0.3
)

const (
	stepMinutes     = 15
	returnHorizon   = 8 * time.Hour
	retentionWindow = 14 * 24 * time.Hour
	cacheTTL        = 15 * time.Minute
)

// Pattern is a learned weekly heatmap. Buckets are indexed by Go weekday
// (Sunday = 0) and hour of day.
type Pattern struct {
	Prob    [7][24]float64
	Samples [7][24]int
}

// Learn builds a pattern from usage samples. Each bucket's probability is
// the Laplace-smoothed mean of the active flags falling in it, so buckets
// with no data sit at 0.5 rather than claiming certainty either way.
func Learn(samples []models.UsageSample) *Pattern {
	var active, total [7][24]int
	for _, s := range samples {
		local := s.Timestamp.Local()
		day := int(local.Weekday())
		hour := local.Hour()
		total[day][hour]++
		if s.Active {
			active[day][hour]++
		}
	}

	p := &Pattern{}
	for day := 0; day < 7; day++ {
		for hour := 0; hour < 24; hour++ {
			// Laplace smoothing with alpha = 1.
			p.Prob[day][hour] = float64(active[day][hour]+1) / float64(total[day][hour]+2)
			p.Samples[day][hour] = total[day][hour]
		}
	}
	return p
}

// At returns the activity probability for the bucket containing t.
func (p *Pattern) At(t time.Time) float64 {
	local := t.Local()
	return p.Prob[int(local.Weekday())][local.Hour()]
}

// SampleSource provides the samples the predictor learns from.
type SampleSource interface {
	SamplesSince(since time.Time) ([]models.UsageSample, error)
}

// Predictor answers idle-window queries against a lazily learned pattern,
// cached per process.
type Predictor struct {
	source SampleSource

	mu        sync.Mutex
	cached    *Pattern
	cachedAt  time.Time
}

// NewPredictor creates a predictor over the given sample source.
func NewPredictor(source SampleSource) *Predictor {
	return &Predictor{source: source}
}

// Pattern returns the learned pattern, recomputing it when the cache is
// stale.
func (p *Predictor) Pattern(now time.Time) (*Pattern, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && now.Sub(p.cachedAt) < cacheTTL {
		return p.cached, nil
	}
	samples, err := p.source.SamplesSince(now.Add(-retentionWindow))
	if err != nil {
		return nil, err
	}
	p.cached = Learn(samples)
	p.cachedAt = now
	return p.cached, nil
}

// MinutesUntilLikelyReturn scans forward in 15-minute steps for up to
// 8 hours and returns the smallest offset whose bucket probability reaches
// the active threshold. ok is false when no bucket qualifies, meaning no
// return is expected within the horizon.
func (p *Predictor) MinutesUntilLikelyReturn(now time.Time) (int, bool, error) {
	pat, err := p.Pattern(now)
	if err != nil {
		return 0, false, err
	}
	for delta := time.Duration(stepMinutes) * time.Minute; delta <= returnHorizon; delta += stepMinutes * time.Minute {
		if pat.At(now.Add(delta)) >= ActiveThreshold {
			return int(delta.Minutes()), true, nil
		}
	}
	return 0, false, nil
}

// LongestPredictedIdleWithin returns, in minutes, the largest run of
// contiguous 15-minute buckets with probability below the idle threshold
// within the next horizon hours.
func (p *Predictor) LongestPredictedIdleWithin(now time.Time, horizonHours int) (int, error) {
	pat, err := p.Pattern(now)
	if err != nil {
		return 0, err
	}
	horizon := time.Duration(horizonHours) * time.Hour
	longest, run := 0, 0
	for delta := time.Duration(0); delta < horizon; delta += stepMinutes * time.Minute {
		if pat.At(now.Add(delta)) < IdleThreshold {
			run += stepMinutes
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest, nil
}

// IdleWindow is a contiguous predicted-idle span used by schedule reports.
type IdleWindow struct {
	Start      time.Time
	End        time.Time
	Confidence float64
}

// Duration returns the window length.
func (w IdleWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// PredictIdleWindows groups contiguous idle buckets within the horizon into
// windows. Confidence is the mean of (1 - probability) over the window.
func (p *Predictor) PredictIdleWindows(now time.Time, horizonHours int) ([]IdleWindow, error) {
	pat, err := p.Pattern(now)
	if err != nil {
		return nil, err
	}
	horizon := time.Duration(horizonHours) * time.Hour
	step := time.Duration(stepMinutes) * time.Minute

	var windows []IdleWindow
	var open *IdleWindow
	var confSum float64
	var confN int

	for delta := time.Duration(0); delta < horizon; delta += step {
		t := now.Add(delta)
		prob := pat.At(t)
		if prob < IdleThreshold {
			if open == nil {
				open = &IdleWindow{Start: t}
				confSum, confN = 0, 0
			}
			open.End = t.Add(step)
			confSum += 1 - prob
			confN++
			continue
		}
		if open != nil {
			open.Confidence = confSum / float64(confN)
			windows = append(windows, *open)
			open = nil
		}
	}
	if open != nil {
		open.Confidence = confSum / float64(confN)
		windows = append(windows, *open)
	}
	return windows, nil
}
