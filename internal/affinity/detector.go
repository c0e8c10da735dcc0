package affinity

import (
	"iter"
	"maps"

	"gonum.org/v1/gonum/stat"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/raster"
)

type state int

const (
	uninitialized state = iota
	initialized
	disposed
)

func (s state) String() string {
	switch s {
	case initialized:
		return "initialized"
	case disposed:
		return "disposed"
	default:
		return "uninitialized"
	}
}

// Detector runs a Partitioner and a Correlator over two pixel sequences.
//
// A Detector keeps the correlation map and the affinity of its last Detect
// call. It is not safe for concurrent use; create one per comparison.
type Detector struct {
	partitioner Partitioner
	correlator  Correlator

	state        state
	correlations map[Key]Correlation
	detected     Affinity
	hasDetected  bool
}

// NewDetector returns an uninitialized detector. Call Init before Detect.
func NewDetector(p Partitioner, c Correlator) *Detector {
	return &Detector{partitioner: p, correlator: c}
}

// NewRasterDetector compares packed colours pixel by pixel.
func NewRasterDetector() *Detector {
	return NewDetector(PixelPartitioner{Value: ColorValue}, ExactCorrelator{})
}

// NewBrightnessDetector compares pixel brightness with background rejection.
func NewBrightnessDetector() *Detector {
	return NewDetector(PixelPartitioner{Value: BrightnessValue}, &BrightnessCorrelator{})
}

// Init moves the detector to the initialized state. It may be called again
// after Done.
func (d *Detector) Init() {
	d.state = initialized
	d.correlations = make(map[Key]Correlation)
	d.detected = Affinity{}
	d.hasDetected = false
}

// Done clears the detected state. Calling it more than once is a no-op.
func (d *Detector) Done() {
	if d.state == disposed {
		return
	}
	d.state = disposed
	d.correlations = nil
	d.detected = Affinity{}
	d.hasDetected = false
	if r, ok := d.correlator.(resetter); ok {
		r.Reset()
	}
}

// Detect compares a against b. Both sequences are partitioned and walked in
// lock-step; when one runs out first the rest of the other is ignored.
//
// Units with Importance > 0.5 are significant. A significant unit with
// Value <= 0.5 is a difference. With size significant units and diffs
// differences the result is:
//
//   - size == 0: {0, 0}, nothing to judge;
//   - size == diffs: {0, 1};
//   - otherwise {1 - diffs/size, mean Value of the agreeing units}.
func (d *Detector) Detect(a, b iter.Seq[raster.Pixel]) (Affinity, error) {
	if d.state != initialized {
		return Affinity{}, apperrors.Newf(apperrors.NotInitialized, "detector is %s", d.state)
	}
	if d.partitioner == nil || d.correlator == nil {
		return Affinity{}, apperrors.New(apperrors.Configuration, "detector needs a partitioner and a correlator")
	}
	if r, ok := d.correlator.(resetter); ok {
		r.Reset()
	}

	nextA, stopA := iter.Pull(d.partitioner.Partition(a))
	defer stopA()
	nextB, stopB := iter.Pull(d.partitioner.Partition(b))
	defer stopB()

	clear(d.correlations)
	d.hasDetected = false

	var (
		size, diffs    int
		reliabilitySum float64
	)
	for {
		ua, ok := nextA()
		if !ok {
			break
		}
		ub, ok := nextB()
		if !ok {
			break
		}
		if ua.Key != ub.Key {
			return d.abort(apperrors.Newf(apperrors.Assertion, "unit keys differ: %s vs %s", ua.Key, ub.Key).
				WithMetadata("key_a", ua.Key.String()).
				WithMetadata("key_b", ub.Key.String()))
		}
		c, err := d.correlator.Correlate(ua, ub)
		if err != nil {
			return d.abort(err)
		}
		d.correlations[ua.Key] = c

		if !c.Significant() {
			continue
		}
		size++
		if c.Agrees() {
			reliabilitySum += c.Value
		} else {
			diffs++
		}
	}

	var result Affinity
	switch {
	case size == 0:
		result = Affinity{}
	case size == diffs:
		result = NewAffinity(0)
	default:
		result = Affinity{
			Value:       1 - float64(diffs)/float64(size),
			Reliability: reliabilitySum / float64(size-diffs),
		}
	}
	d.detected = result
	d.hasDetected = true
	return result, nil
}

// abort drops the correlations of a Detect that failed part way.
func (d *Detector) abort(err error) (Affinity, error) {
	clear(d.correlations)
	return Affinity{}, err
}

// Detected returns the affinity of the last successful Detect.
func (d *Detector) Detected() (Affinity, bool) {
	return d.detected, d.hasDetected
}

// GetCorrelation returns the correlation recorded for key by the last Detect.
// A failed Detect leaves nothing to return.
func (d *Detector) GetCorrelation(key Key) (Correlation, error) {
	c, ok := d.correlations[key]
	if !ok {
		return Correlation{}, apperrors.Newf(apperrors.NotFound, "no correlation for %s", key)
	}
	return c, nil
}

// Correlations returns a copy of the correlation map of the last Detect.
func (d *Detector) Correlations() map[Key]Correlation {
	return maps.Clone(d.correlations)
}

// Learn feeds back the true affinity of the last comparison. The base
// detector does not adapt; it only checks that a comparison happened.
func (d *Detector) Learn(Affinity) error {
	if !d.hasDetected {
		return apperrors.New(apperrors.NotReady, "learn called before detect")
	}
	return nil
}

// CorrelationStats summarizes a correlation map.
type CorrelationStats struct {
	Units          int     `json:"units"`
	Significant    int     `json:"significant"`
	Agreeing       int     `json:"agreeing"`
	MeanValue      float64 `json:"mean_value"`
	StdDevValue    float64 `json:"std_dev_value"`
	MeanImportance float64 `json:"mean_importance"`
}

// Stats summarizes the correlations of the last Detect. Value statistics
// cover significant units only.
func (d *Detector) Stats() CorrelationStats {
	return Summarize(d.correlations)
}

// Summarize computes CorrelationStats for a correlation map.
func Summarize(correlations map[Key]Correlation) CorrelationStats {
	s := CorrelationStats{Units: len(correlations)}
	if s.Units == 0 {
		return s
	}
	importances := make([]float64, 0, s.Units)
	values := make([]float64, 0, s.Units)
	for _, c := range correlations {
		importances = append(importances, c.Importance)
		if c.Significant() {
			values = append(values, c.Value)
			if c.Agrees() {
				s.Agreeing++
			}
		}
	}
	s.Significant = len(values)
	s.MeanImportance = stat.Mean(importances, nil)
	switch len(values) {
	case 0:
	case 1:
		s.MeanValue = values[0]
	default:
		s.MeanValue, s.StdDevValue = stat.MeanStdDev(values, nil)
	}
	return s
}
