package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/teleop/capture"
	"go.viam.com/teleop/joints"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := newApp(&out, &errOut).RunContext(context.Background(), append([]string{"teleop"}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teleop.json")
	test.That(t, os.WriteFile(path, []byte(raw), 0o600), test.ShouldBeNil)
	return path
}

func TestValidate(t *testing.T) {
	out, err := runApp(t, "validate", writeConfig(t, `{"limbs": ["head"], "frequency_hz": 50}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "is valid")
	test.That(t, out, test.ShouldContainSubstring, "50 Hz")

	_, err = runApp(t, "validate", writeConfig(t, `{"speed_fraction": 3}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "speed_fraction")

	_, err = runApp(t, "validate")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLimitsAndSchema(t *testing.T) {
	out, err := runApp(t, "limits")
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{joints.HeadYaw, joints.LElbowRoll, joints.RShoulderRoll} {
		test.That(t, out, test.ShouldContainSubstring, name)
	}

	out, err = runApp(t, "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"frequency_hz"`)
}

func TestRunSimulated(t *testing.T) {
	dir := t.TempDir()
	capturePath := filepath.Join(dir, "capture.db")
	path := writeConfig(t, `{
		"limbs": ["head", "left_arm"],
		"frequency_hz": 50,
		"calibration_time": 0.1,
		"torso": {"calibration_time": 0.1},
		"monitor_addr": "localhost:0",
		"capture_path": "`+capturePath+`",
		"log_file": "`+filepath.Join(dir, "teleop.log")+`"
	}`)

	_, err := runApp(t, "run", "--config", path, "--fake", "--duration", "1s")
	test.That(t, err, test.ShouldBeNil)

	info, err := os.Stat(filepath.Join(dir, "teleop.log"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	store, err := capture.Open(capturePath)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(), test.ShouldBeNil)
	}()
	sessions, err := store.Sessions(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sessions, test.ShouldHaveLength, 1)
	test.That(t, sessions[0].Limbs, test.ShouldResemble, []joints.Limb{joints.Head, joints.LeftArm})
	test.That(t, sessions[0].Commands, test.ShouldBeGreaterThan, 10)
	test.That(t, sessions[0].Failed, test.ShouldEqual, 0)

	twists, err := store.TwistCount(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, twists, test.ShouldBeGreaterThan, 0)

	out, err := runApp(t, "sessions", "--capture", capturePath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, sessions[0].SessionID)
}
