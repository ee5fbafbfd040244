// Package joints holds the static joint limit table shared read-only by every limb loop.
package joints

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/teleop/utils"
)

// ErrConfigInvalid matches every joint table validation failure.
var ErrConfigInvalid = utils.ErrConfigInvalid

// Limb names one independently controlled limb group.
type Limb string

// The limb groups of the robot.
const (
	Head     Limb = "head"
	LeftArm  Limb = "left_arm"
	RightArm Limb = "right_arm"
)

// Limbs lists every limb in table order.
var Limbs = []Limb{Head, LeftArm, RightArm}

// IsArm reports whether the limb is driven through inverse kinematics.
func (l Limb) IsArm() bool {
	return l == LeftArm || l == RightArm
}

// Valid reports whether l is a known limb.
func (l Limb) Valid() bool {
	return lo.Contains(Limbs, l)
}

// JointSpec is the range and rated speed of one joint. Angles are radians.
type JointSpec struct {
	Name string  `json:"name"`
	Limb Limb    `json:"limb"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`

	// RatedVelocity is the mechanical maximum in rad/s.
	RatedVelocity float64 `json:"rated_velocity"`
}

// Clamp limits angle to [Min, Max].
func (js JointSpec) Clamp(angle float64) float64 {
	return utils.Clamp(angle, js.Min, js.Max)
}

// Contains reports whether angle is within the joint range.
func (js JointSpec) Contains(angle float64) bool {
	return angle >= js.Min && angle <= js.Max
}

// Validate returns an error if the spec cannot be used.
func (js JointSpec) Validate(path string) error {
	if js.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if !js.Limb.Valid() {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown limb %q", js.Limb))
	}
	if !utils.IsFinite(js.Min, js.Max, js.RatedVelocity) {
		return utils.NewConfigValidationError(path, errors.New("limits must be finite"))
	}
	if js.Min >= js.Max {
		return utils.NewConfigValidationError(path, errors.Errorf("min %v must be less than max %v", js.Min, js.Max))
	}
	if js.RatedVelocity <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("rated_velocity must be positive, got %v", js.RatedVelocity))
	}
	return nil
}

func (js JointSpec) String() string {
	return fmt.Sprintf("%s[%.4f,%.4f]", js.Name, js.Min, js.Max)
}

// Table is an immutable, validated set of joint specs. It is safe for concurrent reads.
type Table struct {
	specs []JointSpec
	index map[string]int
}

// NewTable validates specs and builds a table. Every problem found is reported.
func NewTable(specs []JointSpec) (*Table, error) {
	if len(specs) == 0 {
		return nil, utils.NewConfigValidationError("joint_limits", errors.New("no joints"))
	}
	var err error
	for _, spec := range specs {
		err = multierr.Append(err, spec.Validate("joint_limits."+spec.Name))
	}
	names := lo.Map(specs, func(spec JointSpec, _ int) string { return spec.Name })
	for _, dup := range lo.FindDuplicates(names) {
		err = multierr.Append(err, utils.NewConfigValidationError("joint_limits."+dup, errors.New("duplicate joint")))
	}
	if err != nil {
		return nil, err
	}

	t := &Table{specs: make([]JointSpec, len(specs)), index: make(map[string]int, len(specs))}
	copy(t.specs, specs)
	for i, spec := range t.specs {
		t.index[spec.Name] = i
	}
	return t, nil
}

// String prints a table of every joint with its range in radians and degrees and its rated speed.
func (t *Table) String() string {
	w := table.NewWriter()
	w.AppendHeader(table.Row{"#", "Name", "Limb", "Min", "Max", "Range (deg)", "Rated (rad/s)"})
	for i, spec := range t.specs {
		w.AppendRow(table.Row{
			i + 1,
			spec.Name,
			spec.Limb,
			fmt.Sprintf("%.4f", spec.Min),
			fmt.Sprintf("%.4f", spec.Max),
			fmt.Sprintf("%.1f to %.1f", utils.RadToDeg(spec.Min), utils.RadToDeg(spec.Max)),
			fmt.Sprintf("%.5f", spec.RatedVelocity),
		})
	}
	return w.Render()
}

// Len returns the number of joints.
func (t *Table) Len() int {
	return len(t.specs)
}

// Specs returns a copy of every spec in table order.
func (t *Table) Specs() []JointSpec {
	out := make([]JointSpec, len(t.specs))
	copy(out, t.specs)
	return out
}

// Names returns the joint names in table order.
func (t *Table) Names() []string {
	return lo.Map(t.specs, func(spec JointSpec, _ int) string { return spec.Name })
}

// Spec returns the spec for a joint name.
func (t *Table) Spec(name string) (JointSpec, bool) {
	i, ok := t.index[name]
	if !ok {
		return JointSpec{}, false
	}
	return t.specs[i], true
}

// Clamp limits angle to the named joint's range.
func (t *Table) Clamp(name string, angle float64) (float64, error) {
	spec, ok := t.Spec(name)
	if !ok {
		return 0, errors.Errorf("unknown joint %q", name)
	}
	return spec.Clamp(angle), nil
}

// Group returns the joints of one limb in table order.
func (t *Table) Group(limb Limb) (Group, error) {
	specs := lo.Filter(t.specs, func(spec JointSpec, _ int) bool { return spec.Limb == limb })
	if len(specs) == 0 {
		return Group{}, errors.Errorf("no joints for limb %q", limb)
	}
	return Group{Limb: limb, Joints: specs}, nil
}

// Group is the ordered joints of a single limb. Angle slices passed to its methods are indexed
// the same way as Joints.
type Group struct {
	Limb   Limb
	Joints []JointSpec
}

// Len returns the number of joints in the group.
func (g Group) Len() int {
	return len(g.Joints)
}

// Names returns the joint names in order.
func (g Group) Names() []string {
	return lo.Map(g.Joints, func(spec JointSpec, _ int) string { return spec.Name })
}

// Clamp returns a copy of angles with each entry limited to its joint range.
func (g Group) Clamp(angles []float64) []float64 {
	out := make([]float64, len(angles))
	for i, a := range angles {
		out[i] = g.Joints[i].Clamp(a)
	}
	return out
}

// Contains reports whether every angle is within its joint range.
func (g Group) Contains(angles []float64) bool {
	if len(angles) != len(g.Joints) {
		return false
	}
	for i, a := range angles {
		if !g.Joints[i].Contains(a) {
			return false
		}
	}
	return true
}

// Home is the zero pose moved into range.
func (g Group) Home() []float64 {
	return g.Clamp(make([]float64, len(g.Joints)))
}

// MaxVelocities returns speedFraction of each joint's rated velocity.
func (g Group) MaxVelocities(speedFraction float64) []float64 {
	return lo.Map(g.Joints, func(spec JointSpec, _ int) float64 {
		return math.Abs(speedFraction) * spec.RatedVelocity
	})
}
