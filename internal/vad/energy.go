package vad

import (
	"math"
	"time"
)

// EnergyConfig controls the energy-based detector.
type EnergyConfig struct {
	SpeechThresholdDB float64
	SilenceHangover   time.Duration
	MinSpeechDuration time.Duration
	SampleRate        int
}

// DefaultEnergyConfig returns defaults tuned for near-field speech at 16 kHz.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		SpeechThresholdDB: -30,
		SilenceHangover:   700 * time.Millisecond,
		MinSpeechDuration: 200 * time.Millisecond,
		SampleRate:        16000,
	}
}

// EnergyDetector flags speech boundaries from frame RMS energy. Timing is
// counted in samples rather than wall clock so behavior does not depend on
// chunk arrival cadence.
type EnergyDetector struct {
	cfg             EnergyConfig
	hangoverSamples int
	minSpeech       int

	inSpeech      bool
	speechSamples int
	silenceRun    int
}

// NewEnergyDetector creates a detector with the given config.
func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	return &EnergyDetector{
		cfg:             cfg,
		hangoverSamples: int(cfg.SilenceHangover.Seconds() * float64(cfg.SampleRate)),
		minSpeech:       int(cfg.MinSpeechDuration.Seconds() * float64(cfg.SampleRate)),
	}
}

// Feed classifies one frame. A BoundaryEnd is only reported after the silence
// hangover elapses following speech of at least the minimum duration; shorter
// bursts are discarded as noise.
func (d *EnergyDetector) Feed(frame []float32) (Boundary, error) {
	if energyDB(frame) >= d.cfg.SpeechThresholdDB {
		d.silenceRun = 0
		d.speechSamples += len(frame)
		if !d.inSpeech {
			d.inSpeech = true
			return BoundaryStart, nil
		}
		return BoundaryNone, nil
	}

	if !d.inSpeech {
		return BoundaryNone, nil
	}

	d.silenceRun += len(frame)
	if d.silenceRun < d.hangoverSamples {
		return BoundaryNone, nil
	}

	spoke := d.speechSamples
	d.inSpeech = false
	d.speechSamples = 0
	d.silenceRun = 0

	if spoke < d.minSpeech {
		return BoundaryNone, nil
	}
	return BoundaryEnd, nil
}

// Reset clears all state for a new stream.
func (d *EnergyDetector) Reset() {
	d.inSpeech = false
	d.speechSamples = 0
	d.silenceRun = 0
}

func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
