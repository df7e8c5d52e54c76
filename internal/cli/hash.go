package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/statesync/internal/canon"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	Canonical bool
}

// HashResult is the JSON payload of the hash command.
type HashResult struct {
	Hash      string `json:"hash"`
	Canonical string `json:"canonical,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <file>",
		Short: "Fingerprint a JSON value",
		Long: `Print the fingerprint of the JSON value in file ("-" reads stdin):
FNV-1a 32 over its canonical form, as unpadded lowercase hex. Equal values
hash equally regardless of key order or whitespace.

Examples:
  statesync hash entity.json
  echo '{"b":1,"a":2}' | statesync hash - --canonical`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Canonical, "canonical", false, "also print the canonical form")

	return cmd
}

func runHash(opts *HashOptions, path string, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to read input", err)
	}
	v, err := decodeJSON(data)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "input is not valid JSON", err)
	}

	res := HashResult{Hash: canon.Hash(v)}
	text := res.Hash
	if opts.Canonical {
		res.Canonical = canon.Canonical(v)
		text = fmt.Sprintf("%s\n%s", res.Hash, res.Canonical)
	}
	return out.Success(res, text)
}

// readInput reads path, or r when path is "-".
func readInput(path string, r io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(path)
}

// decodeJSON decodes a single JSON value keeping numbers as json.Number.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
