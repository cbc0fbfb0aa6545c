package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"tasksync/internal/client/gateway"
	"tasksync/internal/client/session"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register [email]",
	Short: "Create an account on the sync server",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Log in and save the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE:  runLogout,
}

var registerUsername string

func init() {
	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "Username (defaults to the email's local part)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	sess, err := loadSession()
	if err != nil {
		return err
	}

	email := args[0]
	username := registerUsername
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	gw := gateway.New(sess.ServerURL, "")
	if err := gw.Register(context.Background(), username, email, password); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Printf("Registered %s, run 'tasksync login %s' to sign in\n", email, email)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	sess, err := loadSession()
	if err != nil {
		return err
	}

	email := args[0]
	password, err := promptPassword()
	if err != nil {
		return err
	}

	gw := gateway.New(sess.ServerURL, "")
	result, err := gw.Login(context.Background(), email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	sess.Token = result.AccessToken
	sess.RefreshToken = result.RefreshToken
	sess.UserID = result.User.ID
	sess.Email = result.User.Email
	if err := sess.Save(); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", result.User.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := session.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
