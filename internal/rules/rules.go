package rules

import (
	"cmp"
	"slices"
	"time"

	"vitalwatch/internal/models"
)

// Rule names, used in verdicts, logs and metrics
const (
	RuleHeartRateCritical    = "heart_rate_critical"
	RuleSystolicCritical     = "systolic_critical"
	RuleDiastolicCritical    = "diastolic_critical"
	RuleBloodPressureTrend   = "blood_pressure_trend"
	RuleLowSaturation        = "low_saturation"
	RuleRapidSaturationDrop  = "rapid_saturation_drop"
	RuleHypotensiveHypoxemia = "hypotensive_hypoxemia"
	RuleECGAnomaly           = "ecg_anomaly"
)

// CanonicalLookback is the look-back window of the default policy
const CanonicalLookback = 10 * time.Minute

// Thresholds. Bounds are exclusive unless noted.
const (
	HeartRateLow  = 60.0
	HeartRateHigh = 100.0

	SystolicLow  = 90.0
	SystolicHigh = 180.0

	DiastolicLow  = 60.0
	DiastolicHigh = 120.0

	// TrendStep is the per-step change that three consecutive readings must exceed
	TrendStep = 10.0

	SaturationLow = 92.0

	// SaturationDrop is inclusive: a drop of exactly 5 points fires
	SaturationDrop       = 5.0
	SaturationDropWithin = 10 * time.Minute

	ECGMinSamples = 5
	ECGHigh       = 1.2
	ECGLow        = -0.4
)

// Rule is a named condition over a window of readings
type Rule struct {
	Name  string
	Fires func(window []models.Reading) bool
}

// Canonical is the full rule set applied by the default policy
var Canonical = []Rule{
	{RuleHeartRateCritical, HeartRateCritical},
	{RuleSystolicCritical, SystolicCritical},
	{RuleDiastolicCritical, DiastolicCritical},
	{RuleBloodPressureTrend, BloodPressureTrend},
	{RuleLowSaturation, LowSaturation},
	{RuleRapidSaturationDrop, RapidSaturationDrop},
	{RuleHypotensiveHypoxemia, HypotensiveHypoxemia},
	{RuleECGAnomaly, ECGAnomaly},
}

// HeartRateCritical fires on any heart rate below 60 or above 100 bpm
func HeartRateCritical(window []models.Reading) bool {
	return anyOutside(window, models.KindHeartRate, HeartRateLow, HeartRateHigh)
}

// SystolicCritical fires on any systolic pressure below 90 or above 180 mmHg
func SystolicCritical(window []models.Reading) bool {
	return anyOutside(window, models.KindSystolic, SystolicLow, SystolicHigh)
}

// DiastolicCritical fires on any diastolic pressure below 60 or above 120 mmHg
func DiastolicCritical(window []models.Reading) bool {
	return anyOutside(window, models.KindDiastolic, DiastolicLow, DiastolicHigh)
}

// BloodPressureTrend fires when either the systolic or the diastolic series,
// taken in the order the readings appear, has a monotonic run of three
func BloodPressureTrend(window []models.Reading) bool {
	return HasTrend(values(window, models.KindSystolic)) ||
		HasTrend(values(window, models.KindDiastolic))
}

// HasTrend reports whether any three consecutive values rise or fall by
// strictly more than TrendStep at each step
func HasTrend(vals []float64) bool {
	for i := 0; i+2 < len(vals); i++ {
		v1, v2, v3 := vals[i], vals[i+1], vals[i+2]

		rising := v2-v1 > TrendStep && v3-v2 > TrendStep
		falling := v1-v2 > TrendStep && v2-v3 > TrendStep

		if rising || falling {
			return true
		}
	}
	return false
}

// LowSaturation fires on any oxygen saturation below 92%
func LowSaturation(window []models.Reading) bool {
	for _, r := range window {
		if r.Kind == models.KindSaturation && r.Value < SaturationLow {
			return true
		}
	}
	return false
}

// RapidSaturationDrop fires when an earlier saturation reading exceeds a later
// one by at least 5 points and the two are at most 10 minutes apart. Rises
// never fire.
func RapidSaturationDrop(window []models.Reading) bool {
	sat := sortedByTime(window, models.KindSaturation)
	limit := SaturationDropWithin.Milliseconds()

	for i := range sat {
		for j := i + 1; j < len(sat); j++ {
			// sorted, so every later j is further away
			if sat[j].Timestamp-sat[i].Timestamp > limit {
				break
			}
			if sat[i].Value-sat[j].Value >= SaturationDrop {
				return true
			}
		}
	}
	return false
}

// HypotensiveHypoxemia fires when the window holds both a systolic reading
// below 90 and a saturation reading below 92. The two need not be the same
// reading or share a timestamp; each condition latches once seen.
func HypotensiveHypoxemia(window []models.Reading) bool {
	var lowSystolic, lowSaturation bool

	for _, r := range window {
		switch r.Kind {
		case models.KindSystolic:
			if r.Value < SystolicLow {
				lowSystolic = true
			}
		case models.KindSaturation:
			if r.Value < SaturationLow {
				lowSaturation = true
			}
		}
		if lowSystolic && lowSaturation {
			return true
		}
	}
	return false
}

// ECGAnomaly fires when at least five ECG samples are present and any of
// them lies above 1.2 or below -0.4
func ECGAnomaly(window []models.Reading) bool {
	ecg := values(window, models.KindECG)
	if len(ecg) < ECGMinSamples {
		return false
	}
	for _, v := range ecg {
		if v > ECGHigh || v < ECGLow {
			return true
		}
	}
	return false
}

func anyOutside(window []models.Reading, kind models.Kind, low, high float64) bool {
	for _, r := range window {
		if r.Kind == kind && (r.Value < low || r.Value > high) {
			return true
		}
	}
	return false
}

// values returns the values of one kind in encounter order
func values(window []models.Reading, kind models.Kind) []float64 {
	var out []float64
	for _, r := range window {
		if r.Kind == kind {
			out = append(out, r.Value)
		}
	}
	return out
}

// sortedByTime returns a copy of the readings of one kind, oldest first
func sortedByTime(window []models.Reading, kind models.Kind) []models.Reading {
	var out []models.Reading
	for _, r := range window {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Reading) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return out
}
