package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thanatos/keyring"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items contained on the keyring",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var getCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Get the raw data for an item on the keyring",
	Long:  "Print the named item to stdout as a YAML document. JSON payloads are shown as an editable YAML value, anything else as base64.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var editCmd = &cobra.Command{
	Use:   "edit [name]",
	Short: "Edit the raw data for an item",
	Long:  "Open the named item as a YAML document in your editor and store the saved result.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var removeCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove an item from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var removeYes bool

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "delete without asking for confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(removeCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	var infos []keyring.ItemInfo
	for info := range ring.ItemMetadata() {
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b keyring.ItemInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\n", info.Name, info.ContentType)
	}
	return w.Flush()
}

func runGet(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	name := args[0]
	item, err := ring.GetItemRaw(name)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("no item named %q on the keyring", name)
	}

	return writeYAMLDocument(os.Stdout, encodeItemAsYAML(name, item))
}

func runEdit(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	name := args[0]
	item, err := ring.GetItemRaw(name)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("no item named %q on the keyring", name)
	}

	tempFile, err := os.CreateTemp("", "keyring-edit-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create a temporary file for editing: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	if err = writeYAMLDocument(tempFile, encodeItemAsYAML(name, item)); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to write the item to the temporary file: %w", err)
	}
	if err = tempFile.Close(); err != nil {
		return fmt.Errorf("failed to flush the temporary file: %w", err)
	}

	edited, err := editYAMLItemLoop(tempPath, func(candidate *yamlItem) error {
		if candidate.Name != name && ring.HasItem(candidate.Name) {
			return fmt.Errorf("there is already an item named %q on the keyring; remove it first if you want to replace it", candidate.Name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if edited.Name != name {
		// Renames need the old entry purged and references checked; the
		// command refuses rather than guessing at intent.
		return errors.New("renaming an item through edit is not supported")
	}

	data, err := edited.encodeData()
	if err != nil {
		return err
	}
	if err = validateItem(edited.Name, edited.ContentType, data); err != nil {
		return err
	}

	ring.SetItemRaw(edited.Name, keyring.ItemOwned{
		ContentType: edited.ContentType,
		Data:        data,
	})
	return ring.Save()
}

// editYAMLItemLoop runs the editor on path until its content parses as a
// yamlItem and passes check, or the user gives up.
func editYAMLItemLoop(path string, check func(*yamlItem) error) (*yamlItem, error) {
	for {
		if err := runEditor(path); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the edited file: %w", err)
		}

		var item yamlItem
		parseErr := yamlUnmarshalStrict(content, &item)
		if parseErr == nil {
			parseErr = check(&item)
		}
		if parseErr == nil {
			return &item, nil
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

func runRemove(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	name := args[0]
	if !ring.HasItem(name) {
		return fmt.Errorf("no item named %q on the keyring", name)
	}

	if !removeYes {
		fmt.Fprintf(os.Stderr, "This will delete the item named %q from the keyring.\n", name)
		confirmed, err := promptConfirm("Delete?")
		if err != nil {
			return err
		}
		if !confirmed {
			return errors.New("delete aborted")
		}
	}

	ring.DeleteItem(name)
	return ring.Save()
}
