package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a browser localStorage dump",
		Long: "Import reads a JSON object of localStorage keys (chat_<id>, real_chat_<id>,\n" +
			"matches, preferences) and writes it into the configured store.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			dump, err := decodeDump(raw)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), stateFrom(cmd).cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.store.ImportLegacy(cmd.Context(), dump, replace)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "clear existing relationship state first")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the store as a localStorage-shaped JSON object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), stateFrom(cmd).cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			dump, err := a.store.ExportLegacy(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), dump)
		},
	}
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all relationship state (transcripts, matches, preferences)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes every conversation; rerun with --yes")
			}
			a, err := newApp(cmd.Context(), stateFrom(cmd).cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "relationship state cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// decodeDump accepts both shapes seen in the wild: values stored as JSON
// strings (what localStorage holds) and values inlined as JSON.
func decodeDump(raw []byte) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("dump must be a JSON object: %w", err)
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
