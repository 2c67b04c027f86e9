package command

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/agent/config"
	"github.com/yndnr/pksa-go/internal/cli/connection"
	"github.com/yndnr/pksa-go/internal/cli/output"
	"github.com/yndnr/pksa-go/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:           "pksa-agent",
		Usage:          "HiveAuth key custody agent",
		Version:        buildinfo.String(),
		Flags:          globalFlags(),
		DefaultCommand: "run",
		Commands: []*cli.Command{
			RunCommand(),
			AccountsCommand(),
			SessionsCommand(),
			StatusCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			EnvVars: []string{"PKSA_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.StringFlag{
			Name:  "admin",
			Usage: "Admin API address of a running agent (default: admin.address)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config string
	Output string
	Admin  string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config: c.String("config"),
		Output: c.String("output"),
		Admin:  c.String("admin"),
	}
}

// loadConfig loads and verifies the configuration named by --config.
func loadConfig(c *cli.Context) (*config.AgentConfig, error) {
	cfg, err := config.Load(ParseGlobalFlags(c).Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

var errAdminDisabled = errors.New("admin api is disabled (admin.address is empty); pass --admin")

// adminClient returns a client for the running agent. --admin wins over
// admin.address from the configuration.
func adminClient(c *cli.Context) (*connection.HTTPClient, error) {
	if addr := ParseGlobalFlags(c).Admin; addr != "" {
		return connection.NewHTTPClient(addr), nil
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.Admin.Address == "" {
		return nil, errAdminDisabled
	}
	return connection.NewHTTPClient(cfg.Admin.Address), nil
}

// printResult renders data in the format selected by --output.
func printResult(c *cli.Context, data any) error {
	format, err := output.ParseFormat(ParseGlobalFlags(c).Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(stdout(c), data)
}

func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func stderr(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
