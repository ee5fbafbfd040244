package mqttbridge

import (
	"encoding/json"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
)

// ErrBadPayload is returned for messages that cannot be decoded.
var ErrBadPayload = errors.New("bad payload")

// wireSample is a tracker reading. T is seconds since the Unix epoch. An orientation is given
// either as Q (w, x, y, z) or as Yaw and Pitch in radians.
type wireSample struct {
	T     float64     `json:"t"`
	Q     *[4]float64 `json:"q,omitempty"`
	Yaw   *float64    `json:"yaw,omitempty"`
	Pitch *float64    `json:"pitch,omitempty"`
	P     *[3]float64 `json:"p,omitempty"`
	Valid *bool       `json:"valid,omitempty"`
}

type wireSkeleton struct {
	wireSample
	LeftShoulder  *[3]float64 `json:"left_shoulder,omitempty"`
	RightShoulder *[3]float64 `json:"right_shoulder,omitempty"`
}

type wireTwist struct {
	Linear  [3]float64 `json:"linear"`
	Angular [3]float64 `json:"angular"`
}

func secondsToTime(s float64) time.Time {
	whole, frac := math.Modf(s)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func timeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func vector(v *[3]float64) *r3.Vector {
	if v == nil {
		return nil
	}
	return &r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

func (w wireSample) sample() (pose.RawPoseSample, error) {
	if w.T <= 0 {
		return pose.RawPoseSample{}, errors.Wrap(ErrBadPayload, "missing timestamp")
	}
	s := pose.RawPoseSample{Timestamp: secondsToTime(w.T), Position: vector(w.P), Valid: true}
	if w.Valid != nil {
		s.Valid = *w.Valid
	}
	switch {
	case w.Q != nil:
		s.Orientation = quat.Number{Real: w.Q[0], Imag: w.Q[1], Jmag: w.Q[2], Kmag: w.Q[3]}
	case w.Yaw != nil:
		var pitch float64
		if w.Pitch != nil {
			pitch = *w.Pitch
		}
		s.Orientation = spatialmath.QuatFromYawPitchRoll(*w.Yaw, pitch, 0)
	default:
		return pose.RawPoseSample{}, errors.Wrap(ErrBadPayload, "missing orientation")
	}
	return s, nil
}

// DecodeSample parses a tracker message.
func DecodeSample(payload []byte) (pose.RawPoseSample, error) {
	var w wireSample
	if err := json.Unmarshal(payload, &w); err != nil {
		return pose.RawPoseSample{}, errors.Wrapf(ErrBadPayload, "%v", err)
	}
	return w.sample()
}

// EncodeSample is the inverse of DecodeSample. The orientation is written as a quaternion.
func EncodeSample(s pose.RawPoseSample) ([]byte, error) {
	q := s.Orientation
	valid := s.Valid
	w := wireSample{T: timeToSeconds(s.Timestamp), Q: &[4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}, Valid: &valid}
	if s.Position != nil {
		w.P = &[3]float64{s.Position.X, s.Position.Y, s.Position.Z}
	}
	return json.Marshal(w)
}

// DecodeSkeleton parses a torso message.
func DecodeSkeleton(payload []byte) (torso.Sample, error) {
	var w wireSkeleton
	if err := json.Unmarshal(payload, &w); err != nil {
		return torso.Sample{}, errors.Wrapf(ErrBadPayload, "%v", err)
	}
	s, err := w.sample()
	if err != nil {
		return torso.Sample{}, err
	}
	return torso.Sample{Torso: s, LeftShoulder: vector(w.LeftShoulder), RightShoulder: vector(w.RightShoulder)}, nil
}

// EncodeCommand serializes a joint command.
func EncodeCommand(cmd teleop.JointCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// EncodeTwist serializes a base velocity.
func EncodeTwist(linear, angular r3.Vector) ([]byte, error) {
	return json.Marshal(wireTwist{
		Linear:  [3]float64{linear.X, linear.Y, linear.Z},
		Angular: [3]float64{angular.X, angular.Y, angular.Z},
	})
}

// DecodeTwist parses a base velocity.
func DecodeTwist(payload []byte) (torso.Twist, error) {
	var w wireTwist
	if err := json.Unmarshal(payload, &w); err != nil {
		return torso.Twist{}, errors.Wrapf(ErrBadPayload, "%v", err)
	}
	return torso.Twist{
		Linear:  r3.Vector{X: w.Linear[0], Y: w.Linear[1], Z: w.Linear[2]},
		Angular: r3.Vector{X: w.Angular[0], Y: w.Angular[1], Z: w.Angular[2]},
	}, nil
}
