package models

import "time"

// Timeframe is the bar resolution a source analysed at. It scales signal expiry.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1h }

// Duration of a single bar.
func (tf Timeframe) Duration() time.Duration {
	if d, ok := timeframeDurations[tf]; ok {
		return d
	}
	return timeframeDurations[DefaultTimeframe()]
}

// horizonBars is how many bars an opinion from each source stays actionable.
var horizonBars = map[Source]int{
	SourceTechnical:  12,
	SourceSentiment:  6,
	SourcePattern:    24,
	SourcePrediction: 12,
	SourceComposite:  1,
}

// SignalTTL returns how long a signal from src at tf stays pending.
func SignalTTL(src Source, tf Timeframe) time.Duration {
	bars, ok := horizonBars[src]
	if !ok {
		bars = 1
	}
	return time.Duration(bars) * tf.Duration()
}
