package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ashureev/claudebot/internal/domain"
	"github.com/ashureev/claudebot/internal/store"
)

func newSessionsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions [user-id]",
		Short: "List saved sessions from the session store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := store.Open(cfg.Session.Backend, cfg.Session.File, cfg.Session.DBPath, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions := repo.Load(cmd.Context())
			if len(args) == 1 {
				sessions = domain.SessionStore{args[0]: repo.List(cmd.Context(), args[0])}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw store as JSON")
	return cmd
}

func printSessions(w io.Writer, sessions domain.SessionStore) {
	users := make([]string, 0, len(sessions))
	for user, records := range sessions {
		if len(records) > 0 {
			users = append(users, user)
		}
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "No saved sessions.")
		return
	}
	slices.Sort(users)

	for _, user := range users {
		fmt.Fprintf(w, "User %s:\n", user)
		for i, r := range sessions[user] {
			fmt.Fprintf(w, "  %d. [%s] %s %s\n     %s\n     cwd: %s\n",
				i+1,
				r.Status,
				r.CreatedAt.UTC().Format("2006-01-02 15:04"),
				r.SessionID,
				domain.Ellipsize(r.Prompt, 60),
				r.CWD,
			)
		}
	}
}
