package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"taskmanager/internal/auth"
	"taskmanager/internal/models"
	"taskmanager/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Open already migrates; running it again verifies idempotence.
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		appLog.Info("database schema is up to date", slog.String("driver", store.Driver()))
		return nil
	},
}

var newUser struct {
	username  string
	firstName string
	lastName  string
	password  string
}

var createUserCmd = &cobra.Command{
	Use:   "createuser",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if newUser.username == "" || newUser.firstName == "" || newUser.lastName == "" {
			return errors.New("--username, --first-name and --last-name are required")
		}
		if len([]rune(newUser.password)) < auth.MinPasswordLength {
			return fmt.Errorf("password must contain at least %d characters", auth.MinPasswordLength)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		hash, err := auth.HashPassword(newUser.password)
		if err != nil {
			return err
		}
		u, err := store.CreateUser(cmd.Context(), models.User{
			Username:     newUser.username,
			FirstName:    newUser.firstName,
			LastName:     newUser.lastName,
			PasswordHash: hash,
		})
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("user %q already exists", newUser.username)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", u.Username, u.ID)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&newUser.username, "username", "", "login name")
	f.StringVar(&newUser.firstName, "first-name", "", "first name")
	f.StringVar(&newUser.lastName, "last-name", "", "last name")
	f.StringVar(&newUser.password, "password", "", "password (at least 3 characters)")
}

var clearSessionsCmd = &cobra.Command{
	Use:   "clearsessions",
	Short: "Remove expired sessions from the configured session backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := sessionRedis(ctx)
		if err != nil {
			return err
		}
		if client != nil {
			defer client.Close()
		}

		sessions, err := sessionStore(store, client)
		if err != nil {
			return err
		}
		n, err := sessions.DeleteExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions\n", n)
		return nil
	},
}
