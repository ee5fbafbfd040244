package teleop

import (
	"context"
	"sync"
	"time"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/pose"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

type recordingActuator struct {
	mu       sync.Mutex
	commands []JointCommand
	sent     chan JointCommand
	err      error
	block    bool
}

func newRecordingActuator() *recordingActuator {
	return &recordingActuator{sent: make(chan JointCommand, 1024)}
}

func (a *recordingActuator) SendCommand(ctx context.Context, cmd JointCommand) error {
	a.mu.Lock()
	block, err := a.block, a.err
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.commands = append(a.commands, cmd)
	a.mu.Unlock()
	select {
	case a.sent <- cmd:
	default:
	}
	return nil
}

func (a *recordingActuator) Commands() []JointCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]JointCommand, len(a.commands))
	copy(out, a.commands)
	return out
}

type recordingListener struct {
	mu          sync.Mutex
	transitions []State
	commands    int
}

func (r *recordingListener) StateChanged(_ joints.Limb, _, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func (r *recordingListener) CommandIssued(JointCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands++
}

func (r *recordingListener) Transitions() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// chanTracker fans samples out to the subscribed callbacks.
type chanTracker struct {
	mu           sync.Mutex
	subs         map[joints.Limb]func(pose.RawPoseSample)
	unsubscribed int
	failLimb     joints.Limb
}

func newChanTracker() *chanTracker {
	return &chanTracker{subs: map[joints.Limb]func(pose.RawPoseSample){}}
}

func (c *chanTracker) Subscribe(limb joints.Limb, fn func(pose.RawPoseSample)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limb == c.failLimb {
		return nil, context.DeadlineExceeded
	}
	c.subs[limb] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, limb)
		c.unsubscribed++
	}, nil
}

func (c *chanTracker) publish(limb joints.Limb, s pose.RawPoseSample) bool {
	c.mu.Lock()
	fn, ok := c.subs[limb]
	c.mu.Unlock()
	if ok {
		fn(s)
	}
	return ok
}
