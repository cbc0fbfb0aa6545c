// Package cli implements the tasksync command line client. Every command
// builds its engine from the saved session, so mutations made while the
// server is unreachable are queued and replayed by a later sync.
package cli

import (
	"fmt"

	"tasksync/internal/client/engine"
	"tasksync/internal/client/gateway"
	"tasksync/internal/client/session"
	"tasksync/internal/client/store"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Task tracker with offline sync",
	Long: `tasksync manages your tasks against a sync server.

Changes made while offline are queued locally and replayed the next time
the server is reachable. Run 'tasksync watch' to follow live updates from
your other sessions.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Sync server URL (overrides the saved session)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadSession returns the saved session with any --server override applied.
func loadSession() (*session.Session, error) {
	sess, err := session.Load()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		sess.ServerURL = serverURL
	}
	return sess, nil
}

// openEngine wires the gateway, local store and engine for the logged-in
// account. The caller must call the returned close function.
func openEngine() (*engine.Engine, *session.Session, func(), error) {
	sess, err := loadSession()
	if err != nil {
		return nil, nil, nil, err
	}
	if !sess.LoggedIn() {
		return nil, nil, nil, fmt.Errorf("not logged in, run 'tasksync login' first")
	}

	dataDir, err := session.DataDir()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	gw := gateway.New(sess.ServerURL, sess.Token)
	eng, err := engine.New(gw, st, sess.UserID, true)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := st.Close(); err != nil {
			fmt.Printf("warning: failed to close local store: %v\n", err)
		}
	}
	return eng, sess, closeFn, nil
}
