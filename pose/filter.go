package pose

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/teleop/spatialmath"
)

// ErrPoseRejected is matched by every rejection returned from Filter.Push.
var ErrPoseRejected = errors.New("pose sample rejected")

// RejectReason says why a sample was dropped.
type RejectReason string

// Rejection reasons.
const (
	RejectInvalid    RejectReason = "invalid"
	RejectMalformed  RejectReason = "malformed"
	RejectOutOfOrder RejectReason = "out_of_order"
	RejectGlitch     RejectReason = "glitch"
)

// RejectionError carries the reason a sample was dropped.
type RejectionError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", ErrPoseRejected, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrPoseRejected, e.Reason, e.Detail)
}

// Is lets errors.Is match ErrPoseRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrPoseRejected
}

// ReasonOf returns the rejection reason of err, or "" if err is not a rejection.
func ReasonOf(err error) RejectReason {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// FilterConfig bounds what the filter accepts.
type FilterConfig struct {
	// MaxLinearRate is the fastest plausible tracked motion in m/s.
	MaxLinearRate float64
	// MaxAngularRate is the fastest plausible rotation in rad/s.
	MaxAngularRate float64
	// StaleTimeout is how long the last accepted sample stays usable.
	StaleTimeout time.Duration
}

// DefaultFilterConfig returns thresholds that pass human motion and drop tracker jumps.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{MaxLinearRate: 3, MaxAngularRate: 12, StaleTimeout: 500 * time.Millisecond}
}

// FilterStats counts what the filter has seen.
type FilterStats struct {
	Accepted uint64
	Rejected map[RejectReason]uint64
}

// Filter drops samples that are invalid, out of order or physically implausible and holds the
// last accepted one. It does not interpolate. A Filter is owned by one limb loop.
//
// Sample timestamps come from the tracker's clock and are only compared with each other.
// Staleness is measured on the receiver's clock from the arrival time passed to Push.
type Filter struct {
	cfg       FilterConfig
	last      RawPoseSample
	arrivedAt time.Time
	has       bool
	stats     FilterStats
}

// NewFilter returns an empty filter.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg, stats: FilterStats{Rejected: map[RejectReason]uint64{}}}
}

// Push returns s if it is accepted, otherwise a *RejectionError and the held sample is kept.
// arrived is when s reached the receiver, on the receiver's clock. A timestamp equal to the last
// accepted one counts as out of order.
func (f *Filter) Push(s RawPoseSample, arrived time.Time) (RawPoseSample, error) {
	if err := f.check(s); err != nil {
		f.stats.Rejected[ReasonOf(err)]++
		return RawPoseSample{}, err
	}
	f.last = s
	f.arrivedAt = arrived
	f.has = true
	f.stats.Accepted++
	return s, nil
}

func (f *Filter) check(s RawPoseSample) error {
	if !s.Valid {
		return &RejectionError{Reason: RejectInvalid}
	}
	if !s.wellFormed() {
		return &RejectionError{Reason: RejectMalformed}
	}
	if !f.has {
		return nil
	}
	if !s.Timestamp.After(f.last.Timestamp) {
		return &RejectionError{
			Reason: RejectOutOfOrder,
			Detail: fmt.Sprintf("%v not after %v", s.Timestamp, f.last.Timestamp),
		}
	}

	dt := s.Timestamp.Sub(f.last.Timestamp).Seconds()
	if f.cfg.MaxAngularRate > 0 {
		angle := spatialmath.QuatAngle(spatialmath.OrientationBetween(f.last.Orientation, s.Orientation))
		if rate := angle / dt; rate > f.cfg.MaxAngularRate {
			return &RejectionError{Reason: RejectGlitch, Detail: fmt.Sprintf("angular rate %.2f rad/s", rate)}
		}
	}
	if f.cfg.MaxLinearRate > 0 && s.HasPosition() && f.last.HasPosition() {
		dist := s.Position.Sub(*f.last.Position).Norm()
		if rate := dist / dt; rate > f.cfg.MaxLinearRate {
			return &RejectionError{Reason: RejectGlitch, Detail: fmt.Sprintf("linear rate %.2f m/s", rate)}
		}
	}
	return nil
}

// Latest returns the held sample.
func (f *Filter) Latest() (RawPoseSample, bool) {
	return f.last, f.has
}

// LastArrival returns when the held sample arrived, or the zero time if there is none.
func (f *Filter) LastArrival() time.Time {
	return f.arrivedAt
}

// Stale reports whether no sample has arrived and been accepted within the stale timeout before
// now. now is on the same clock as the arrival times given to Push.
func (f *Filter) Stale(now time.Time) bool {
	if !f.has {
		return true
	}
	return now.Sub(f.arrivedAt) > f.cfg.StaleTimeout
}

// Stats returns a snapshot of the counters.
func (f *Filter) Stats() FilterStats {
	out := FilterStats{Accepted: f.stats.Accepted, Rejected: make(map[RejectReason]uint64, len(f.stats.Rejected))}
	for k, v := range f.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}
