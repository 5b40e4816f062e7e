package cmd

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/thanatos/keyring"
)

// resolvePassphrase takes the passphrase from config/flag/env when present,
// otherwise prompts on the terminal without echo.
func resolvePassphrase(prompt string) (keyring.Secret, error) {
	if p := viper.GetString("keyring.passphrase"); p != "" {
		return keyring.NewSecret(p), nil
	}
	return promptSecret(prompt)
}

func promptSecret(prompt string) (keyring.Secret, error) {
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return keyring.Secret{}, fmt.Errorf("failed to read passphrase from TTY: %w", err)
		}
		return keyring.NewSecret(string(raw)), nil
	}

	// Not a terminal (tests, pipes): fall back to a plain line read.
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !strings.HasSuffix(line, "\n") && line == "" {
		return keyring.Secret{}, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return keyring.NewSecret(strings.TrimRight(line, "\r\n")), nil
}

// promptConfirm asks a yes/no question on the terminal, defaulting to no.
func promptConfirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("failed to read your answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// runEditor opens path in the user's editor and waits for it to exit.
func runEditor(path string) error {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %q failed: %w", editor, err)
	}
	return nil
}

// writeToClipboard pipes data into the platform clipboard tool.
func writeToClipboard(data []byte) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.Command("pbcopy")
	} else {
		cmd = exec.Command("xsel", "-b")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open a pipe to the clipboard command: %w", err)
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start the clipboard command: %w", err)
	}
	if _, err = stdin.Write(data); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("failed to write to the clipboard command: %w", err)
	}
	if err = stdin.Close(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("failed to close the clipboard pipe: %w", err)
	}
	if err = cmd.Wait(); err != nil {
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}

// Data encodings for yamlItem: "json" means the data field holds a YAML value
// that is transcoded to JSON for storage; "base64" means it holds a base64
// string of the raw payload.
const (
	dataEncodingJSON   = "json"
	dataEncodingBase64 = "base64"
)

// yamlItem is an item rendered as one YAML document, used both for
// import/export and for editing a whole item in $EDITOR.
type yamlItem struct {
	Name         string      `yaml:"name"`
	ContentType  string      `yaml:"mimetype"`
	DataEncoding string      `yaml:"data_encoding"`
	Data         interface{} `yaml:"data"`
}

// encodeItemAsYAML renders an item's raw payload as a yamlItem: JSON payloads
// become an editable YAML value, everything else is base64.
func encodeItemAsYAML(name string, item *keyring.Item) yamlItem {
	var value interface{}
	if err := json.Unmarshal(item.Data, &value); err == nil {
		return yamlItem{
			Name:         name,
			ContentType:  item.ContentType,
			DataEncoding: dataEncodingJSON,
			Data:         value,
		}
	}
	return yamlItem{
		Name:         name,
		ContentType:  item.ContentType,
		DataEncoding: dataEncodingBase64,
		Data:         base64.StdEncoding.EncodeToString(item.Data),
	}
}

// encodeData reverses encodeItemAsYAML, producing the payload bytes to store.
func (y *yamlItem) encodeData() ([]byte, error) {
	switch y.DataEncoding {
	case dataEncodingJSON:
		data, err := json.Marshal(y.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to transcode the data field to JSON: %w", err)
		}
		return data, nil
	case dataEncodingBase64:
		s, ok := y.Data.(string)
		if !ok {
			return nil, errors.New("the data field should have contained a base64 string, but didn't")
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("the data field should have been base64, but wasn't: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown data_encoding %q (want %q or %q)", y.DataEncoding, dataEncodingJSON, dataEncodingBase64)
	}
}

// yamlUnmarshalStrict decodes YAML into v, rejecting fields that v does not
// declare. Typos in an edited document fail loudly instead of being dropped.
func yamlUnmarshalStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// validateItem checks that payload bytes decode under their declared content
// type, for the types this tool knows about.
func validateItem(name, contentType string, data []byte) error {
	switch contentType {
	case keyring.PasswordContentType:
		var record keyring.PasswordRecord
		if err := record.DecodeItem(data); err != nil {
			return fmt.Errorf("item %q is not a valid password record: %w", name, err)
		}
	case "text/plain; charset=utf-8":
		if !utf8.Valid(data) {
			return fmt.Errorf("item %q is not valid UTF-8", name)
		}
	default:
		fmt.Fprintf(os.Stderr, "Warning: unable to validate item %q with type %s\n", name, contentType)
	}
	return nil
}

// writeYAMLDocument marshals v to w as a standalone YAML document.
func writeYAMLDocument(w *os.File, v interface{}) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
