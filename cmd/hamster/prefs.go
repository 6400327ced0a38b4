package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"reflect"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hamster-ime/hamster/internal/api"
	"github.com/hamster-ime/hamster/internal/prefs"
)

var prefsLocal bool

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and change keyboard preferences",
	Long: `Read and change keyboard preferences.

Commands go through the running daemon when it answers, so the keyboard
session sees changes at once. Otherwise, or with --local, they open the
shared store directly.`,
}

// withTarget opens the preference target for the duration of fn.
func withTarget(ctx context.Context, fn func(prefsTarget) error) (err error) {
	t, err := openTarget(ctx, prefsLocal)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.close(); err == nil {
			err = cerr
		}
	}()
	return fn(t)
}

// normalized returns v in its setting's Go type. Values decoded from the
// API arrive as generic JSON.
func normalized(key string, v any) any {
	s, ok := prefs.Lookup(key)
	if !ok {
		return v
	}
	if nv, err := s.Normalize(v); err == nil {
		return nv
	}
	return v
}

func formatValue(key string, v any) string {
	s, ok := prefs.Lookup(key)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s.Format(normalized(key, v))
}

func isModified(p api.Preference) bool {
	return !reflect.DeepEqual(normalized(p.Key, p.Value), normalized(p.Key, p.Default))
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every preference and its current value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		modifiedOnly, _ := cmd.Flags().GetBool("modified")

		return withTarget(cmd.Context(), func(t prefsTarget) error {
			all, err := t.list(cmd.Context())
			if err != nil {
				return err
			}
			if modifiedOnly {
				kept := all[:0]
				for _, p := range all {
					if isModified(p) {
						kept = append(kept, p)
					}
				}
				all = kept
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			}
			for _, p := range all {
				marker := " "
				if isModified(p) {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s = %s\n", marker, bold(p.Key), formatValue(p.Key, p.Value))
			}
			return nil
		})
	},
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the current value of a preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(cmd.Context(), func(t prefsTarget) error {
			p, err := t.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(p.Key, p.Value))
			return nil
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a preference",
	Long: `Change a preference.

Booleans take true or false, numbers are decimal and the slide symbol map
is a JSON object.

Examples:
  hamster prefs set rime.pageSize 5
  hamster prefs set view.keyboard.switchTraditionalChinese true
  hamster prefs set keyboard.upAndDownSlideSymbol '{"a":"#行首","q":"!"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, text := args[0], args[1]
		s, ok := prefs.Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %s", prefs.ErrUnknownKey, key)
		}
		v, err := s.Parse(text)
		if err != nil {
			return err
		}

		return withTarget(cmd.Context(), func(t prefsTarget) error {
			p, err := t.set(cmd.Context(), key, v)
			if err != nil {
				return err
			}
			printSuccess("Set %s = %s", key, formatValue(p.Key, p.Value))
			return nil
		})
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset [key...]",
	Short: "Restore preferences to their defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			return fmt.Errorf("give one or more keys, or --all")
		}
		keys := args
		if all {
			for _, s := range prefs.Settings() {
				keys = append(keys, s.Name)
			}
		}
		for _, k := range keys {
			if _, ok := prefs.Lookup(k); !ok {
				return fmt.Errorf("%w: %s", prefs.ErrUnknownKey, k)
			}
		}

		return withTarget(cmd.Context(), func(t prefsTarget) error {
			for _, k := range keys {
				if _, err := t.reset(cmd.Context(), k); err != nil {
					return fmt.Errorf("resetting %s: %w", k, err)
				}
			}
			if all {
				printSuccess("Reset all %d preferences", len(keys))
			} else {
				printSuccess("Reset %d preference(s)", len(keys))
			}
			return nil
		})
	},
}

var prefsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write preferences as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		modifiedOnly, _ := cmd.Flags().GetBool("modified")

		values := map[string]any{}
		err := withTarget(cmd.Context(), func(t prefsTarget) error {
			all, err := t.list(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range all {
				if modifiedOnly && !isModified(p) {
					continue
				}
				values[p.Key] = normalized(p.Key, p.Value)
			}
			return nil
		})
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := writeYAML(w, values); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d preferences to %s", len(values), output)
		}
		return nil
	},
}

func writeYAML(w io.Writer, values map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(values); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// importEntry is one validated value of an import file.
type importEntry struct {
	key   string
	value any
}

// readImport parses a YAML preference file and validates every entry.
// Either every entry is valid or nothing is returned.
func readImport(r io.Reader) ([]importEntry, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		entries []importEntry
		errs    []error
	)
	for _, k := range keys {
		s, ok := prefs.Lookup(k)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", prefs.ErrUnknownKey, k))
			continue
		}
		v, err := s.Normalize(raw[k])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, importEntry{key: k, value: v})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

var prefsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply preferences from a YAML file",
	Long: `Apply preferences from a YAML file written by export.

Every entry is validated first; if any is invalid nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		entries, err := readImport(f)
		if err != nil {
			return fmt.Errorf("nothing imported: %w", err)
		}

		if dryRun {
			for _, e := range entries {
				printStep("would set %s = %s", e.key, formatValue(e.key, e.value))
			}
			printSuccess("%d preference(s) valid", len(entries))
			return nil
		}

		return withTarget(cmd.Context(), func(t prefsTarget) error {
			for _, e := range entries {
				if _, err := t.set(cmd.Context(), e.key, e.value); err != nil {
					return fmt.Errorf("setting %s: %w", e.key, err)
				}
			}
			printSuccess("Imported %d preference(s)", len(entries))
			return nil
		})
	},
}

var prefsWatchCmd = &cobra.Command{
	Use:   "watch [key...]",
	Short: "Print preference changes as the daemon publishes them",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range args {
			if _, ok := prefs.Lookup(k); !ok {
				return fmt.Errorf("%w: %s", prefs.ErrUnknownKey, k)
			}
		}

		ctx := cmd.Context()
		client := daemonClient(ctx)
		if client == nil {
			return fmt.Errorf("watch needs a running daemon, start one with hamster serve")
		}

		path := "/preferences/events"
		if len(args) > 0 {
			path += "?" + url.Values{"key": args}.Encode()
		}
		resp, err := client.stream(ctx, path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		printStep("Watching preferences, press Ctrl-C to stop")
		out := cmd.OutOrStdout()
		err = readEvents(resp.Body, func(c prefs.Change) error {
			fmt.Fprintf(out, "%s %s %s -> %s (%s)\n",
				c.At.Local().Format("15:04:05"), bold(c.Key),
				formatValue(c.Key, c.Previous), formatValue(c.Key, c.Value), c.Origin)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	prefsCmd.PersistentFlags().BoolVar(&prefsLocal, "local", false, "open the store directly instead of going through the daemon")

	prefsListCmd.Flags().Bool("json", false, "print as JSON")
	prefsListCmd.Flags().Bool("modified", false, "only list preferences that differ from their default")
	prefsResetCmd.Flags().Bool("all", false, "reset every preference")
	prefsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	prefsExportCmd.Flags().Bool("modified", false, "only export preferences that differ from their default")
	prefsImportCmd.Flags().Bool("dry-run", false, "validate without writing")

	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsResetCmd)
	prefsCmd.AddCommand(prefsExportCmd)
	prefsCmd.AddCommand(prefsImportCmd)
	prefsCmd.AddCommand(prefsWatchCmd)
}
