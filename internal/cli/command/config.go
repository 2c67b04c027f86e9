package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/agent/config"
	"github.com/yndnr/pksa-go/internal/cli/output"
	"github.com/yndnr/pksa-go/internal/keystore"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Load and verify the configuration, then print it with secrets masked",
				Action: configCheck,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "keys",
						Usage: "Also parse the key file",
					},
				},
			},
		},
	}
}

func configCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("keys") {
		keys, err := keystore.Load(cfg.Keys.File)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr(c), "key file ok: %d account(s)\n", len(keys.Accounts()))
	}
	// The config tree is not tabular; table output means YAML here.
	format, err := output.ParseFormat(ParseGlobalFlags(c).Output)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format).Format(stdout(c), config.Sanitize(cfg))
}
