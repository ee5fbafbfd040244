package mqttbridge

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
)

// PubSub is the part of mqtt.Client the bridge uses.
type PubSub interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Bridge is a teleop.Tracker, a teleop.Actuator and a torso.Base over one MQTT connection.
type Bridge struct {
	cfg    Config
	client PubSub
	logger logging.Logger
	close  func()

	mu       sync.Mutex
	badInput map[string]*rate.Sometimes
}

var (
	_ teleop.Tracker  = (*Bridge)(nil)
	_ teleop.Actuator = (*Bridge)(nil)
	_ torso.Base      = (*Bridge)(nil)
)

// Connect dials the broker in cfg and returns a bridge that owns the connection.
func Connect(ctx context.Context, cfg Config, logger logging.Logger) (*Bridge, error) {
	if err := cfg.Validate("mqtt"); err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Infow("mqtt connected", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Broker)
	}
	b := NewBridge(cfg, client, logger)
	b.close = func() { client.Disconnect(250) }
	return b, nil
}

// NewBridge wraps an existing client. Close does not disconnect it.
func NewBridge(cfg Config, client PubSub, logger logging.Logger) *Bridge {
	return &Bridge{cfg: cfg, client: client, logger: logger, badInput: map[string]*rate.Sometimes{}}
}

// wait blocks until tok completes, ctx is done or timeout passes.
func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Errorf("mqtt operation timed out after %v", timeout)
	}
}

func (b *Bridge) warnBadInput(topic string, err error) {
	b.mu.Lock()
	s, ok := b.badInput[topic]
	if !ok {
		s = &rate.Sometimes{Interval: 5 * time.Second}
		b.badInput[topic] = s
	}
	b.mu.Unlock()
	s.Do(func() { b.logger.Warnw("dropping undecodable message", "topic", topic, "error", err) })
}

func (b *Bridge) subscribe(topic string, handler mqtt.MessageHandler) (func(), error) {
	if err := wait(context.Background(), b.client.Subscribe(topic, b.cfg.QoS, handler), b.cfg.ConnectTimeout); err != nil {
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	b.logger.Debugw("subscribed", "topic", topic)
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := wait(context.Background(), b.client.Unsubscribe(topic), b.cfg.ConnectTimeout); err != nil {
				b.logger.Warnw("failed to unsubscribe", "topic", topic, "error", err)
			}
		})
	}, nil
}

// Subscribe delivers decoded samples for limb to fn.
func (b *Bridge) Subscribe(limb joints.Limb, fn func(pose.RawPoseSample)) (func(), error) {
	if !limb.Valid() {
		return nil, errors.Errorf("unknown limb %q", limb)
	}
	return b.subscribe(b.cfg.TrackerTopic(limb), func(_ mqtt.Client, msg mqtt.Message) {
		s, err := DecodeSample(msg.Payload())
		if err != nil {
			b.warnBadInput(msg.Topic(), err)
			return
		}
		fn(s)
	})
}

// SubscribeSkeleton delivers decoded torso samples to fn.
func (b *Bridge) SubscribeSkeleton(fn func(torso.Sample)) (func(), error) {
	return b.subscribe(b.cfg.SkeletonTopic(), func(_ mqtt.Client, msg mqtt.Message) {
		s, err := DecodeSkeleton(msg.Payload())
		if err != nil {
			b.warnBadInput(msg.Topic(), err)
			return
		}
		fn(s)
	})
}

// SubscribeCalibrate calls fn for every recalibration request.
func (b *Bridge) SubscribeCalibrate(fn func()) (func(), error) {
	return b.subscribe(b.cfg.CalibrateTopic(), func(mqtt.Client, mqtt.Message) { fn() })
}

// SendCommand publishes cmd on its limb's command topic.
func (b *Bridge) SendCommand(ctx context.Context, cmd teleop.JointCommand) error {
	payload, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.CommandTopic(cmd.Limb), payload)
}

// SetVelocity publishes a base twist.
func (b *Bridge) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	payload, err := EncodeTwist(linear, angular)
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.VelocityTopic(), payload)
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte) error {
	timeout := b.cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := wait(ctx, b.client.Publish(topic, b.cfg.QoS, false, payload), timeout); err != nil {
		return errors.Wrapf(err, "publishing to %s", topic)
	}
	return nil
}

// Close disconnects from the broker if the bridge opened the connection.
func (b *Bridge) Close() error {
	if b.close != nil {
		b.close()
	}
	return nil
}
