package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thanatos/keyring"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new keyring file",
	Long:  "Create a new, empty keyring at the configured path. Refuses to overwrite an existing file.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := keyringPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Creating a new keyring at %s\n", path)

	passphrase, err := newPassphrase()
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create the keyring directory: %w", err)
	}

	options, err := engineOptions()
	if err != nil {
		return err
	}
	ring, err := keyring.CreateWithOptions(path, passphrase, options)
	if err != nil {
		return err
	}
	defer ring.Close()

	fmt.Fprintf(os.Stderr, "New keyring created at %s\n", path)
	return nil
}

// newPassphrase prompts twice unless the passphrase was supplied through
// config/flag/env.
func newPassphrase() (keyring.Secret, error) {
	if p := viper.GetString("keyring.passphrase"); p != "" {
		return keyring.NewSecret(p), nil
	}

	passphrase, err := promptSecret("    New password: ")
	if err != nil {
		return keyring.Secret{}, err
	}
	confirm, err := promptSecret("Confirm password: ")
	if err != nil {
		return keyring.Secret{}, err
	}
	if !passphrase.Equal(confirm) {
		return keyring.Secret{}, errors.New("passwords did not match")
	}
	return passphrase, nil
}
