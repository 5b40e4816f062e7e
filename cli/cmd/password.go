package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thanatos/keyring"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Commands for working with password items",
}

var passwordNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Add a new password to the keyring",
	Long: `Generate a password, open a pre-filled template in your editor to add the
account details, and store the result as a password item.`,
	Args: cobra.NoArgs,
	RunE: runPasswordNew,
}

var passwordCopyCmd = &cobra.Command{
	Use:   "copy [name]",
	Short: "Copy a password to the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE:  runPasswordCopy,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password and print it",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

var (
	passwordLength int
	generateLength int
	generateExtra  bool
)

func init() {
	passwordNewCmd.Flags().IntVarP(&passwordLength, "length", "l", 16, "length of the generated password")
	generateCmd.Flags().IntVarP(&generateLength, "length", "l", 16, "length of the generated password")
	generateCmd.Flags().BoolVar(&generateExtra, "extra-symbols", false, "also draw from quotes, slashes, and brackets")

	passwordCmd.AddCommand(passwordNewCmd)
	passwordCmd.AddCommand(passwordCopyCmd)
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(generateCmd)
}

// newPasswordTemplate is what the user edits when adding a password item. The
// generated password is substituted for $PASSWORD before the editor opens.
const newPasswordTemplate = `# Fill in the details for the new entry. Empty optional fields are not
# stored. The password below was freshly generated; replace it if you have
# one already.
name: ""
username: ""
email: ""
password: "$PASSWORD"
security_questions: []
# security_questions:
#   - question: "First pet's name?"
#     answer: "..."
`

// yamlPassword is the editable shape of a new password entry.
type yamlPassword struct {
	Name              string                     `yaml:"name"`
	Username          string                     `yaml:"username"`
	Email             string                     `yaml:"email"`
	Password          string                     `yaml:"password"`
	SecurityQuestions []keyring.SecurityQuestion `yaml:"security_questions"`
}

func runPasswordNew(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	generated, err := keyring.Generate(passwordLength, keyring.DefaultAlphabet())
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp("", "keyring-password-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create a temporary file for editing: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	template := strings.Replace(newPasswordTemplate, "$PASSWORD", generated.Reveal(), 1)
	if _, err = tempFile.WriteString(template); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to write the template: %w", err)
	}
	if err = tempFile.Close(); err != nil {
		return fmt.Errorf("failed to flush the template: %w", err)
	}

	entry, err := editPasswordLoop(tempPath, ring)
	if err != nil {
		return err
	}

	record := keyring.PasswordRecord{
		Username:          entry.Username,
		Email:             entry.Email,
		Password:          keyring.NewSecret(entry.Password),
		SecurityQuestions: entry.SecurityQuestions,
	}
	if err = ring.SetItem(entry.Name, &record); err != nil {
		return err
	}
	if err = ring.Save(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Stored the password as %q.\n", entry.Name)
	return nil
}

// editPasswordLoop runs the editor on path until the document parses as a
// valid new entry, or the user gives up.
func editPasswordLoop(path string, ring *keyring.Keyring) (*yamlPassword, error) {
	for {
		if err := runEditor(path); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the edited file: %w", err)
		}

		var entry yamlPassword
		parseErr := yamlUnmarshalStrict(content, &entry)
		if parseErr == nil {
			switch {
			case entry.Name == "":
				parseErr = errors.New("the entry needs a name")
			case entry.Password == "":
				parseErr = errors.New("the entry needs a password")
			case ring.HasItem(entry.Name):
				parseErr = fmt.Errorf("there is already an item named %q on the keyring", entry.Name)
			}
		}
		if parseErr == nil {
			return &entry, nil
		}

		fmt.Fprintf(os.Stderr, "Failed to parse the result: %v\n", parseErr)
		again, err := promptConfirm("Edit again?")
		if err != nil {
			return nil, err
		}
		if !again {
			return nil, errors.New("editing cancelled")
		}
	}
}

func runPasswordCopy(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	name := args[0]
	var record keyring.PasswordRecord
	found, err := ring.GetItem(name, &record)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no password item named %q on the keyring", name)
	}

	if err = writeToClipboard([]byte(record.Password.Reveal())); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Copied to the clipboard.")
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	alphabet := keyring.DefaultAlphabet()
	if generateExtra {
		alphabet = append(alphabet, []rune(keyring.MoreSymbols)...)
	}

	password, err := keyring.Generate(generateLength, alphabet)
	if err != nil {
		return err
	}
	fmt.Println(password.Reveal())
	return nil
}
