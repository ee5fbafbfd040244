// Package capture records every command sent to the robot in a SQLite database so sessions can be
// inspected after the fact.
package capture

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
)

//go:embed schema.sql
var schemaSQL string

// Store is a capture database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the capture database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open capture database")
	}
	// One writer; the limb emitters serialize through it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		schemaSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, closeDB(db, errors.Wrapf(err, "failed to prepare capture database %s", path))
		}
	}
	return &Store{db: db}, nil
}

func closeDB(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close database: %v", closeErr)
	}
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record is one captured joint command and whether the actuator accepted it.
type Record struct {
	Command   teleop.JointCommand
	Delivered bool
	Err       string
}

// SessionSummary describes one captured session.
type SessionSummary struct {
	SessionID string
	Limbs     []joints.Limb
	Commands  int
	Holds     int
	Failed    int
	First     time.Time
	Last      time.Time
}

// WriteCommand stores a command along with the outcome of sending it.
func (s *Store) WriteCommand(ctx context.Context, cmd teleop.JointCommand, sendErr error) error {
	names, err := json.Marshal(cmd.Names)
	if err != nil {
		return errors.Wrap(err, "write command")
	}
	angles, err := json.Marshal(cmd.Angles)
	if err != nil {
		return errors.Wrap(err, "write command")
	}
	var errText sql.NullString
	if sendErr != nil {
		errText = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (session_id, limb, seq, names, angles, hold, issued_at, delivered, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cmd.SessionID,
		string(cmd.Limb),
		int64(cmd.Seq),
		string(names),
		string(angles),
		cmd.Hold,
		cmd.IssuedAt.UnixNano(),
		sendErr == nil,
		errText,
	)
	return errors.Wrap(err, "write command")
}

// WriteTwist stores a base velocity.
func (s *Store) WriteTwist(ctx context.Context, linear, angular r3.Vector, sentAt time.Time, delivered bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twists (linear_x, linear_y, linear_z, angular_x, angular_y, angular_z, sent_at, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		linear.X, linear.Y, linear.Z,
		angular.X, angular.Y, angular.Z,
		sentAt.UnixNano(),
		delivered,
	)
	return errors.Wrap(err, "write twist")
}

// Commands returns the commands captured for one limb of a session in sequence order.
func (s *Store) Commands(ctx context.Context, sessionID string, limb joints.Limb) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, names, angles, hold, issued_at, delivered, error
		FROM commands
		WHERE session_id = ? AND limb = ?
		ORDER BY seq
	`, sessionID, string(limb))
	if err != nil {
		return nil, errors.Wrap(err, "query commands")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			seq             int64
			names, angles   string
			issuedAt        int64
			hold, delivered bool
			errText         sql.NullString
		)
		if err := rows.Scan(&seq, &names, &angles, &hold, &issuedAt, &delivered, &errText); err != nil {
			return nil, errors.Wrap(err, "scan command")
		}
		rec := Record{
			Command: teleop.JointCommand{
				SessionID: sessionID,
				Limb:      limb,
				Seq:       uint64(seq),
				IssuedAt:  time.Unix(0, issuedAt),
				Hold:      hold,
			},
			Delivered: delivered,
			Err:       errText.String,
		}
		if err := json.Unmarshal([]byte(names), &rec.Command.Names); err != nil {
			return nil, errors.Wrapf(err, "decode names of command %d", seq)
		}
		if err := json.Unmarshal([]byte(angles), &rec.Command.Angles); err != nil {
			return nil, errors.Wrapf(err, "decode angles of command %d", seq)
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "query commands")
}

// Sessions summarizes every captured session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, group_concat(DISTINCT limb), count(*), sum(hold), sum(1 - delivered),
			min(issued_at), max(issued_at)
		FROM commands
		GROUP BY session_id
		ORDER BY min(issued_at)
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			summary     SessionSummary
			limbs       string
			first, last int64
		)
		if err := rows.Scan(&summary.SessionID, &limbs, &summary.Commands, &summary.Holds, &summary.Failed, &first, &last); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		seen := strings.Split(limbs, ",")
		summary.Limbs = lo.Filter(joints.Limbs, func(limb joints.Limb, _ int) bool {
			return lo.Contains(seen, string(limb))
		})
		summary.First = time.Unix(0, first)
		summary.Last = time.Unix(0, last)
		out = append(out, summary)
	}
	return out, errors.Wrap(rows.Err(), "query sessions")
}

// TwistCount returns how many base velocities were captured.
func (s *Store) TwistCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM twists").Scan(&n)
	return n, errors.Wrap(err, "count twists")
}

// Actuator records every command it forwards. Capture failures are logged and never fail the
// command.
type Actuator struct {
	store    *Store
	actuator teleop.Actuator
	logger   logging.Logger
	warn     rate.Sometimes
}

var _ teleop.Actuator = (*Actuator)(nil)

// NewActuator wraps actuator so its commands are captured into store.
func NewActuator(store *Store, actuator teleop.Actuator, logger logging.Logger) *Actuator {
	return &Actuator{
		store:    store,
		actuator: actuator,
		logger:   logger,
		warn:     rate.Sometimes{Interval: 5 * time.Second},
	}
}

// SendCommand forwards cmd and records the result.
func (a *Actuator) SendCommand(ctx context.Context, cmd teleop.JointCommand) error {
	sendErr := a.actuator.SendCommand(ctx, cmd)
	if err := a.store.WriteCommand(context.WithoutCancel(ctx), cmd, sendErr); err != nil {
		a.warn.Do(func() { a.logger.Warnw("failed to capture command", "limb", cmd.Limb, "seq", cmd.Seq, "error", err) })
	}
	return sendErr
}

// Base records every velocity it forwards.
type Base struct {
	store  *Store
	base   torso.Base
	clock  clock.Clock
	logger logging.Logger
	warn   rate.Sometimes
}

var _ torso.Base = (*Base)(nil)

// NewBase wraps base so its velocities are captured into store.
func NewBase(store *Store, base torso.Base, clk clock.Clock, logger logging.Logger) *Base {
	return &Base{
		store:  store,
		base:   base,
		clock:  clk,
		logger: logger,
		warn:   rate.Sometimes{Interval: 5 * time.Second},
	}
}

// SetVelocity forwards the velocity and records it.
func (b *Base) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	sendErr := b.base.SetVelocity(ctx, linear, angular)
	if err := b.store.WriteTwist(context.WithoutCancel(ctx), linear, angular, b.clock.Now(), sendErr == nil); err != nil {
		b.warn.Do(func() { b.logger.Warnw("failed to capture twist", "error", err) })
	}
	return sendErr
}
