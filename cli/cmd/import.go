package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thanatos/keyring"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import items into the keyring",
	Long: `Read a stream of YAML documents from stdin and add each one as an item.
Each document has the same shape that "keyring get" prints. The whole import
is checked before anything is written: one bad document means nothing is
imported.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var importOverwrite bool

func init() {
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace items that already exist on the keyring")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	defer ring.Close()

	dec := yaml.NewDecoder(os.Stdin)
	dec.KnownFields(true)

	type stagedItem struct {
		name string
		item keyring.ItemOwned
	}
	var staged []stagedItem
	seen := make(map[string]struct{})

	for docNum := 1; ; docNum++ {
		var doc yamlItem
		err = dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse document %d: %w", docNum, err)
		}

		if doc.Name == "" {
			return fmt.Errorf("document %d has no name", docNum)
		}
		if _, dup := seen[doc.Name]; dup {
			return fmt.Errorf("the import contains more than one item named %q", doc.Name)
		}
		seen[doc.Name] = struct{}{}

		if !importOverwrite && ring.HasItem(doc.Name) {
			return fmt.Errorf("there is already an item named %q on the keyring (use --overwrite to replace it)", doc.Name)
		}

		data, err := doc.encodeData()
		if err != nil {
			return fmt.Errorf("document %d (%q): %w", docNum, doc.Name, err)
		}
		if err = validateItem(doc.Name, doc.ContentType, data); err != nil {
			return err
		}

		staged = append(staged, stagedItem{
			name: doc.Name,
			item: keyring.ItemOwned{ContentType: doc.ContentType, Data: data},
		})
	}

	if len(staged) == 0 {
		return errors.New("the input contained no items")
	}

	for _, s := range staged {
		ring.SetItemRaw(s.name, s.item)
	}
	if err = ring.Save(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Imported %d items.\n", len(staged))
	return nil
}
