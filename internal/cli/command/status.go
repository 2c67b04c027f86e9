package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

// StatusRow is the output of `status`.
type StatusRow struct {
	Admin  string `table:"ADMIN" json:"admin" yaml:"admin"`
	Health string `table:"HEALTH" json:"health" yaml:"health"`
	Ready  string `table:"READY" json:"ready" yaml:"ready"`
	Relay  string `table:"RELAY" json:"relay" yaml:"relay"`
	Reason string `table:"REASON" json:"reason,omitempty" yaml:"reason,omitempty"`
}

// StatusCommand reports liveness and readiness of a running agent.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a running agent",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Exit non-zero unless the agent is ready",
			},
		},
		Action: status,
	}
}

func status(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return err
	}
	ready, err := client.Ready(ctx)
	if err != nil {
		return err
	}

	row := StatusRow{
		Admin:  client.BaseURL(),
		Health: health.Status,
		Ready:  ready.Status,
		Relay:  ready.Relay,
		Reason: ready.Reason,
	}
	if err := printResult(c, []StatusRow{row}); err != nil {
		return err
	}
	if c.Bool("check") && ready.Status != "ready" {
		return cli.Exit(fmt.Sprintf("agent not ready: %s", ready.Reason), 2)
	}
	return nil
}
