package joints

// Joint names of the humanoid table.
const (
	HeadYaw        = "head_yaw"
	HeadPitch      = "head_pitch"
	LShoulderPitch = "l_shoulder_pitch"
	LShoulderRoll  = "l_shoulder_roll"
	LElbowYaw      = "l_elbow_yaw"
	LElbowRoll     = "l_elbow_roll"
	RShoulderPitch = "r_shoulder_pitch"
	RShoulderRoll  = "r_shoulder_roll"
	RElbowYaw      = "r_elbow_yaw"
	RElbowRoll     = "r_elbow_roll"
)

// Rated joint speeds in rad/s.
const (
	yawPitchRated  = 8.26797
	rollRated      = 7.19407
	headPitchRated = 7.19407
)

// HumanoidSpecs are the ten joint ranges of the robot in radians. The bounds match the
// hardware and must not be edited.
var HumanoidSpecs = []JointSpec{
	{Name: HeadYaw, Limb: Head, Min: -2.0857, Max: 2.0857, RatedVelocity: yawPitchRated},
	{Name: HeadPitch, Limb: Head, Min: -0.7068, Max: 0.4451, RatedVelocity: headPitchRated},
	{Name: LShoulderPitch, Limb: LeftArm, Min: -2.0857, Max: 2.0857, RatedVelocity: yawPitchRated},
	{Name: LShoulderRoll, Limb: LeftArm, Min: 0.0087, Max: 1.562, RatedVelocity: rollRated},
	{Name: LElbowYaw, Limb: LeftArm, Min: -2.0857, Max: 2.0857, RatedVelocity: yawPitchRated},
	{Name: LElbowRoll, Limb: LeftArm, Min: -1.562, Max: -0.0087, RatedVelocity: rollRated},
	{Name: RShoulderPitch, Limb: RightArm, Min: -2.0857, Max: 2.0857, RatedVelocity: yawPitchRated},
	{Name: RShoulderRoll, Limb: RightArm, Min: -1.562, Max: -0.0087, RatedVelocity: rollRated},
	{Name: RElbowYaw, Limb: RightArm, Min: -2.0857, Max: 2.0857, RatedVelocity: yawPitchRated},
	{Name: RElbowRoll, Limb: RightArm, Min: 0.0087, Max: 1.562, RatedVelocity: rollRated},
}

// HumanoidTable returns the validated humanoid table.
func HumanoidTable() *Table {
	t, err := NewTable(HumanoidSpecs)
	if err != nil {
		panic(err)
	}
	return t
}
