package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thanatos/keyring"
	"github.com/thanatos/keyring/audit"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keyring",
	Short: "An encrypted keyring for credentials and other sensitive data",
	Long: `An encrypted keyring holding named, typed secret items in a single file.
The container is sealed with a passphrase (Argon2id + ChaCha20-Poly1305) and
every save is committed atomically, so a crash can never corrupt it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.keyring.yaml)")
	rootCmd.PersistentFlags().StringP("keyring", "k", "", "path to the keyring file")
	rootCmd.PersistentFlags().String("passphrase", "", "keyring passphrase (or use KEYRING_PASSPHRASE env var)")
	rootCmd.PersistentFlags().Bool("memlock", false, "lock process memory so secrets cannot be swapped to disk")

	bindFlagOrPanic("keyring.path", "keyring")
	bindFlagOrPanic("keyring.passphrase", "passphrase")
	bindFlagOrPanic("keyring.memlock", "memlock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".keyring")
		}
	}

	viper.SetEnvPrefix("KEYRING")
	viper.AutomaticEnv()
	// KEYRING_PASSPHRASE is the documented way to avoid the flag showing up
	// in process listings.
	_ = viper.BindEnv("keyring.passphrase", "KEYRING_PASSPHRASE")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// keyringPath resolves the container location: flag/config first, then the
// conventional $HOME/.keyring/keyring.v2.
func keyringPath() (string, error) {
	if p := viper.GetString("keyring.path"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot find your home directory for the default keyring path: %w", err)
	}
	return filepath.Join(home, ".keyring", "keyring.v2"), nil
}

// engineOptions builds the keyring Options from the audit and memory
// configuration.
func engineOptions() (keyring.Options, error) {
	options := keyring.Options{
		EnableMemoryLock: viper.GetBool("keyring.memlock"),
	}

	if viper.GetBool("audit.enabled") {
		auditType := audit.ConfigType(viper.GetString("audit.type"))
		if auditType == audit.NoOp {
			auditType = audit.FileAuditType
		}
		logger, err := audit.NewLogger(&audit.Config{
			Enabled: true,
			Type:    auditType,
			Options: viper.GetStringMap("audit.options"),
		})
		if err != nil {
			return keyring.Options{}, fmt.Errorf("failed to set up audit logging: %w", err)
		}
		options.Audit = logger
	}

	return options, nil
}

// openKeyring loads the configured keyring, prompting for the passphrase if
// it was not supplied through the flag, config, or environment.
func openKeyring() (*keyring.Keyring, error) {
	path, err := keyringPath()
	if err != nil {
		return nil, err
	}
	passphrase, err := resolvePassphrase("Password: ")
	if err != nil {
		return nil, err
	}
	options, err := engineOptions()
	if err != nil {
		return nil, err
	}
	return keyring.LoadWithOptions(path, passphrase, options)
}
