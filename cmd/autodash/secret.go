package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/orangebricks/autodash/internal/audit"
	"github.com/orangebricks/autodash/internal/keychain"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets such as the model API key",
	Long:  "Manage secrets. On macOS they live in the Keychain, elsewhere in ~/.autodash/secrets.yaml.",
}

// secretStore opens the system store with audit logging. The returned
// close function releases the audit log.
func secretStore() (*keychain.AuditedStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	auditLog, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	metadata, err := keychain.NewMetadataStore(metadataPath())
	if err != nil {
		auditLog.Close()
		return nil, nil, err
	}
	store := keychain.NewAuditedStore(keychain.NewSystemStore(), auditLog, metadata, "cli")
	return store, func() { auditLog.Close() }, nil
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret",
	Long:  "Store a secret. If value is omitted, reads from stdin (useful for piping).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := secretStore()
		if err != nil {
			return err
		}
		defer closeFn()
		key := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Print("Enter secret value: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				fmt.Println()
				value = string(b)
			} else {
				b, err := os.ReadFile("/dev/stdin")
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				value = strings.TrimRight(string(b), "\n")
			}
		}
		if value == "" {
			return fmt.Errorf("empty secret value")
		}

		if err := store.Set(key, value); err != nil {
			return err
		}
		fmt.Printf("Secret %q stored\n", key)
		return nil
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := secretStore()
		if err != nil {
			return err
		}
		defer closeFn()

		val, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored secrets",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := secretStore()
		if err != nil {
			return err
		}
		defer closeFn()

		keys, err := store.List()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No secrets stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tUPDATED")
		for _, k := range keys {
			updated := "-"
			if meta := store.Metadata().Get(k); meta != nil {
				ts := meta.UpdatedAt
				if ts.IsZero() {
					ts = meta.CreatedAt
				}
				updated = ts.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\n", k, updated)
		}
		w.Flush()
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a secret",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := secretStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Secret %q deleted\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}
