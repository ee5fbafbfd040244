// Package web serves a live view of a teleoperation session: a JSON snapshot of every limb and a
// websocket stream of state changes and commands.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
	"go.viam.com/teleop/utils"
)

const (
	clientBuffer = 64
	writeTimeout = time.Second
)

// Event types sent to websocket clients.
const (
	EventState   = "state"
	EventCommand = "command"
	EventTwist   = "twist"
)

// Event is one websocket message.
type Event struct {
	Type    string               `json:"type"`
	Time    time.Time            `json:"time"`
	Limb    joints.Limb          `json:"limb,omitempty"`
	From    *teleop.State        `json:"from,omitempty"`
	To      *teleop.State        `json:"to,omitempty"`
	Command *teleop.JointCommand `json:"command,omitempty"`
	Linear  *r3.Vector           `json:"linear,omitempty"`
	Angular *r3.Vector           `json:"angular,omitempty"`
}

// LimbStatus is a limb's entry in the snapshot.
type LimbStatus struct {
	State       teleop.State         `json:"state"`
	LastCommand *teleop.JointCommand `json:"last_command,omitempty"`
}

// Snapshot is the body of the state endpoint.
type Snapshot struct {
	Limbs map[joints.Limb]LimbStatus `json:"limbs"`
	Twist *Event                     `json:"twist,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Monitor fans loop activity out to websocket clients. It implements teleop.Listener; events are
// dropped for clients that fall behind so loops never wait on the network.
type Monitor struct {
	logger   logging.Logger
	upgrader websocket.Upgrader
	clock    func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	limbs   map[joints.Limb]LimbStatus
	twist   *Event

	workers *utils.StoppableWorkers
	server  *http.Server
}

var _ teleop.Listener = (*Monitor)(nil)

// NewMonitor returns a monitor with no clients.
func NewMonitor(logger logging.Logger) *Monitor {
	m := &Monitor{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clock:   time.Now,
		clients: map[*client]struct{}{},
		limbs:   map[joints.Limb]LimbStatus{},
	}
	m.workers = utils.NewStoppableWorkers()
	return m
}

// StateChanged records the new phase and broadcasts it.
func (m *Monitor) StateChanged(limb joints.Limb, from, to teleop.State) {
	m.mu.Lock()
	status := m.limbs[limb]
	status.State = to
	m.limbs[limb] = status
	m.mu.Unlock()
	m.broadcast(Event{Type: EventState, Time: m.clock(), Limb: limb, From: &from, To: &to})
}

// CommandIssued records the command and broadcasts it.
func (m *Monitor) CommandIssued(cmd teleop.JointCommand) {
	m.mu.Lock()
	status := m.limbs[cmd.Limb]
	status.LastCommand = &cmd
	m.limbs[cmd.Limb] = status
	m.mu.Unlock()
	m.broadcast(Event{Type: EventCommand, Time: cmd.IssuedAt, Limb: cmd.Limb, Command: &cmd})
}

// WatchBase returns a base that reports every velocity it forwards to the monitor.
func (m *Monitor) WatchBase(base torso.Base) torso.Base {
	return &watchedBase{Base: base, monitor: m}
}

type watchedBase struct {
	torso.Base
	monitor *Monitor
}

func (b *watchedBase) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	err := b.Base.SetVelocity(ctx, linear, angular)
	if err == nil {
		ev := Event{Type: EventTwist, Time: b.monitor.clock(), Linear: &linear, Angular: &angular}
		b.monitor.mu.Lock()
		b.monitor.twist = &ev
		b.monitor.mu.Unlock()
		b.monitor.broadcast(ev)
	}
	return err
}

// Snapshot returns the latest state of every limb seen so far.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Snapshot{Limbs: make(map[joints.Limb]LimbStatus, len(m.limbs)), Twist: m.twist}
	for limb, status := range m.limbs {
		out.Limbs[limb] = status
	}
	return out
}

func (m *Monitor) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		m.logger.Errorw("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		select {
		case c.send <- msg:
		default:
			m.logger.Debugw("monitor client behind, dropping event", "remote", c.conn.RemoteAddr().String())
		}
	}
}

// Handler returns the monitor's routes.
func (m *Monitor) Handler() http.Handler {
	mux := goji.NewMux()
	corsHandler := cors.AllowAll()
	mux.Handle(pat.Get("/api/state"), corsHandler.Handler(http.HandlerFunc(m.serveState)))
	mux.HandleFunc(pat.Get("/ws"), m.serveWS)
	return mux
}

func (m *Monitor) serveState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Snapshot()); err != nil {
		m.logger.Debugw("failed to write state", "error", err)
	}
}

func (m *Monitor) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
	m.logger.Infow("monitor client connected", "remote", conn.RemoteAddr().String())

	closed := make(chan struct{})
	m.workers.AddWorkers(func(ctx context.Context) {
		defer m.drop(c)
		for {
			select {
			case <-ctx.Done():
				//nolint:errcheck
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeTimeout))
				return
			case <-closed:
				return
			case msg := <-c.send:
				if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					m.logger.Debugw("monitor client write failed", "error", err)
					return
				}
			}
		}
	})
	if m.workers.Context().Err() != nil {
		m.drop(c)
		return
	}
	// Clients only listen; reading detects when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debugw("monitor client read failed", "error", err)
			}
			close(closed)
			return
		}
	}
}

func (m *Monitor) drop(c *client) {
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	goutils.UncheckedError(c.conn.Close())
	m.logger.Infow("monitor client disconnected", "remote", c.conn.RemoteAddr().String())
}

// Clients returns the number of connected websocket clients.
func (m *Monitor) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Start serves the monitor on addr until Close is called. It returns the bound address.
func (m *Monitor) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.workers.AddWorkers(func(context.Context) {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Errorw("monitor server stopped", "error", err)
		}
	})
	m.logger.Infow("monitor listening", "addr", listener.Addr().String())
	return listener.Addr(), nil
}

// Close shuts down the server and disconnects every client.
func (m *Monitor) Close() error {
	var err error
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		err = m.server.Shutdown(ctx)
	}
	m.workers.Stop()
	return err
}
