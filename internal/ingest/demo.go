package ingest

import (
	"math"
	"math/rand"
	"time"
)

// DemoConfig configures the synthetic tick stream used in demo mode.
type DemoConfig struct {
	// StartTime is the timestamp of the first tick
	StartTime time.Time
	// Count is the number of ticks to generate
	Count int
	// InitialMid is the starting mid price
	InitialMid float64
	// Volatility controls the per-tick mid movement
	Volatility float64
	// SpreadMean is the average ask-bid spread
	SpreadMean float64
	// IntervalMean is the average inter-tick arrival interval
	IntervalMean time.Duration
}

// DefaultDemoConfig returns an EURUSD-like stream: ~1s arrivals starting on
// a Tuesday, so weekend trimming has no effect on the demo run.
func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		StartTime:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Count:        5000,
		InitialMid:   1.0850,
		Volatility:   0.00005,
		SpreadMean:   0.00012,
		IntervalMean: time.Second,
	}
}

// DemoSource generates a deterministic synthetic tick stream. The same seed
// always produces the same rows, so demo runs are reproducible end to end.
type DemoSource struct {
	seed   int64
	config DemoConfig
}

// NewDemoSource creates a demo source with the default stream shape.
func NewDemoSource(seed int64) *DemoSource {
	return &DemoSource{seed: seed, config: DefaultDemoConfig()}
}

// NewDemoSourceWithConfig creates a demo source with a custom stream shape.
func NewDemoSourceWithConfig(seed int64, config DemoConfig) *DemoSource {
	return &DemoSource{seed: seed, config: config}
}

// Each implements RowSource. Mid prices follow a random walk with
// normally distributed steps (Box-Muller), spreads jitter around the
// configured mean, and arrival intervals jitter around IntervalMean.
func (s *DemoSource) Each(fn func(RawRow) error) error {
	rng := rand.New(rand.NewSource(s.seed))

	mid := s.config.InitialMid
	current := s.config.StartTime

	for i := 0; i < s.config.Count; i++ {
		// Box-Muller transform for a normal step
		u1 := rng.Float64()
		u2 := rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		mid += s.config.Volatility * z
		if mid <= 0 {
			mid = s.config.InitialMid
		}

		spread := s.config.SpreadMean * (0.5 + rng.Float64())
		bid := mid - spread/2
		ask := mid + spread/2

		row := RawRow{
			Index:     i,
			Timestamp: current.Format(time.RFC3339Nano),
			Bid:       bid,
			Ask:       ask,
		}

		if err := fn(row); err != nil {
			return err
		}

		// Jittered arrival: 0.5x to 1.5x the mean interval
		jitter := 0.5 + rng.Float64()
		current = current.Add(time.Duration(float64(s.config.IntervalMean) * jitter))
	}

	return nil
}
