package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/teleop/capture"
	"go.viam.com/teleop/config"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagFake     = "fake"
	flagDuration = "duration"
	flagCapture  = "capture"
)

func newApp(out, errOut io.Writer) *cli.App {
	configFlag := &cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`",
	}
	return &cli.App{
		Name:            "teleop",
		Usage:           "drive a humanoid from operator tracking",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a teleoperation session",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  flagFake,
						Usage: "use the simulated robot and operator even if a broker is configured",
					},
					&cli.DurationFlag{
						Name:  flagDuration,
						Usage: "stop after `DURATION`; zero runs until interrupted",
					},
				},
				Action: runAction,
			},
			{
				Name:      "validate",
				Usage:     "check a configuration file",
				ArgsUsage: "FILE",
				Action:    validateAction,
			},
			{
				Name:   "limits",
				Usage:  "print the joint limit table",
				Flags:  []cli.Flag{configFlag},
				Action: limitsAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the configuration file",
				Action: schemaAction,
			},
			{
				Name:  "sessions",
				Usage: "summarize the sessions in a capture database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagCapture,
						Usage:    "capture database `FILE`",
						Required: true,
					},
				},
				Action: sessionsAction,
			},
		},
	}
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("teleop")
	}
	return logging.NewLogger("teleop")
}

// loadConfig reads path, or returns the defaults when no path is given.
func loadConfig(path string, logger logging.Logger) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Read(path, logger)
}

func validateAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("validate takes exactly one config file")
	}
	path := c.Args().First()
	cfg, err := config.Read(path, newLogger(c))
	if err != nil {
		return err
	}
	if _, err := cfg.JointTable(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s is valid: limbs %v at %v Hz\n", path, cfg.Limbs, cfg.FrequencyHz)
	return nil
}

func limitsAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String(flagConfig), newLogger(c))
	if err != nil {
		return err
	}
	tbl, err := cfg.JointTable()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, tbl.String())
	return nil
}

func schemaAction(c *cli.Context) error {
	raw, err := config.SchemaJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(raw))
	return nil
}

func sessionsAction(c *cli.Context) error {
	store, err := capture.Open(c.String(flagCapture))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintln(c.App.ErrWriter, err)
		}
	}()
	sessions, err := store.Sessions(c.Context)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.App.Writer, "no sessions captured")
		return nil
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Session", "Limbs", "Commands", "Holds", "Failed", "Started", "Duration"})
	for _, s := range sessions {
		limbs := lo.Map(s.Limbs, func(l joints.Limb, _ int) string { return string(l) })
		t.AppendRow(table.Row{
			s.SessionID, limbs, s.Commands, s.Holds, s.Failed,
			s.First.Format(time.RFC3339), s.Last.Sub(s.First).Round(time.Millisecond),
		})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}
