package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(stdout(c), "pksa-agent %s\n", buildinfo.String())
			return err
		},
	}
}
