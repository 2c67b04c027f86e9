package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
)

// requestTimeout bounds one admin API call.
const requestTimeout = 10 * time.Second

// SessionRow is one line of `sessions list`. Session keys never leave the
// agent.
type SessionRow struct {
	Account  string `table:"ACCOUNT" json:"account" yaml:"account"`
	ID       string `table:"ID" json:"id" yaml:"id"`
	App      string `table:"APP" json:"app" yaml:"app"`
	Expire   string `table:"EXPIRES" json:"expire" yaml:"expire"`
	LastUsed string `table:"LAST USED" json:"last_used,omitempty" yaml:"last_used,omitempty"`
	Nonce    int64  `table:"NONCE" json:"nonce" yaml:"nonce"`
	Expired  bool   `table:"EXPIRED" json:"expired" yaml:"expired"`
}

// SessionsCommand returns the sessions subcommand group.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "sessions",
		Aliases: []string{"sess"},
		Usage:   "Manage auth sessions of a running agent",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Only sessions of this account",
					},
				},
				Action: sessionsList,
			},
			{
				Name:   "prune",
				Usage:  "Drop expired sessions of every account",
				Action: sessionsPrune,
			},
			{
				Name:  "revoke",
				Usage: "Drop one session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Aliases:  []string{"a"},
						Usage:    "Account name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Session id",
						Required: true,
					},
				},
				Action: sessionsRevoke,
			},
		},
	}
}

func sessionsList(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	views, err := client.Accounts(ctx)
	if err != nil {
		return err
	}

	account := c.String("account")
	found := account == ""
	rows := []SessionRow{}
	for _, v := range views {
		if account != "" && v.Name != account {
			continue
		}
		found = true
		rows = append(rows, sessionRows(v)...)
	}
	if !found {
		return fmt.Errorf("account %q is not managed by this agent", account)
	}
	return printResult(c, rows)
}

func sessionRows(v handler.AccountView) []SessionRow {
	rows := make([]SessionRow, 0, len(v.Sessions))
	for _, s := range v.Sessions {
		rows = append(rows, SessionRow{
			Account:  v.Name,
			ID:       s.ID,
			App:      s.App,
			Expire:   s.Expire,
			LastUsed: s.LastUsed,
			Nonce:    s.Nonce,
			Expired:  s.Expired,
		})
	}
	return rows
}

func sessionsPrune(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	n, err := client.PruneSessions(ctx)
	if err != nil {
		return err
	}
	return printResult(c, map[string]int{"pruned": n})
}

func sessionsRevoke(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	account, id := c.String("account"), c.String("id")
	if err := client.RevokeSession(ctx, account, id); err != nil {
		return fmt.Errorf("revoke %s/%s: %w", account, id, err)
	}
	fmt.Fprintf(stdout(c), "session %s of %s revoked\n", id, account)
	return nil
}
