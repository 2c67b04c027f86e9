package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/keystore"
	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
)

// AccountRow is one line of `accounts list`.
type AccountRow struct {
	Name           string   `table:"ACCOUNT" json:"name" yaml:"name"`
	Tiers          []string `table:"KEYS" json:"keys" yaml:"keys"`
	PublicKeys     []string `json:"public_keys" yaml:"public_keys"`
	ActiveSessions *int     `table:"ACTIVE" json:"active_sessions,omitempty" yaml:"active_sessions,omitempty"`
	Sessions       *int     `table:"SESSIONS" json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// AccountsCommand returns the accounts subcommand group.
func AccountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acc"},
		Usage:   "Inspect managed accounts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List accounts with their public keys and session counts",
				Action: accountsList,
			},
		},
	}
}

// accountsList reads public keys from the key file and, when the agent is
// reachable, session counts from its admin API.
func accountsList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	keys, err := keystore.Load(cfg.Keys.File)
	if err != nil {
		return err
	}

	var views []handler.AccountView
	if client, err := adminClient(c); err != nil {
		fmt.Fprintf(stderr(c), "warning: session counts unavailable: %v\n", err)
	} else {
		ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
		views, err = client.Accounts(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(stderr(c), "warning: session counts unavailable: %v\n", err)
		}
	}

	return printResult(c, buildAccountRows(keys, views))
}

func buildAccountRows(keys *keystore.Store, views []handler.AccountView) []AccountRow {
	byName := make(map[string]handler.AccountView, len(views))
	for _, v := range views {
		byName[v.Name] = v
	}

	rows := make([]AccountRow, 0, len(keys.Accounts()))
	for _, name := range keys.Accounts() {
		row := AccountRow{Name: name}
		pub := keys.PublicKeys(name)
		for _, tier := range domain.Tiers() {
			if k, ok := pub[tier]; ok {
				row.Tiers = append(row.Tiers, tier.String())
				row.PublicKeys = append(row.PublicKeys, tier.String()+"="+k)
			}
		}
		if v, ok := byName[name]; ok {
			active, total := v.ActiveSessions, len(v.Sessions)
			row.ActiveSessions, row.Sessions = &active, &total
		}
		rows = append(rows, row)
	}
	return rows
}
