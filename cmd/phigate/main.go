package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "phigate",
	Short: "Compliance gateway CLI",
	Long:  "A CLI for working with protected health records through the compliance gateway.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(auditCmd())
}

// parseFields turns key=value args into a field map.
func parseFields(args []string) (map[string]any, error) {
	fields := map[string]any{}
	for _, kv := range args {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid key=value pair: %s", kv)
		}
		fields[parts[0]] = parts[1]
	}
	return fields, nil
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Session management"}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Provision a session for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, _ := cmd.Flags().GetString("actor-id")
			role, _ := cmd.Flags().GetString("role")
			provisionKey := os.Getenv("PHIGATE_PROVISION_KEY")
			if provisionKey == "" {
				printError("PHIGATE_PROVISION_KEY must be set")
				return nil
			}

			client := newClient()
			resp, err := client.do("POST", "/v1/auth/session", map[string]any{
				"actor_id": actorID,
				"role":     role,
			}, map[string]string{"X-Provision-Key": provisionKey})
			if err != nil {
				printError(err.Error())
				return nil
			}
			result, err := parseResponse(resp)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				if tok, ok := d["token"].(string); ok {
					cfg.Token = tok
					if err := saveConfig(); err == nil {
						fmt.Fprintln(os.Stderr, "Session token saved to config.")
					}
				}
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	issueCmd.Flags().String("actor-id", "", "Actor the session is issued for")
	issueCmd.Flags().String("role", "CLIENT", "Actor role: CLIENT, THERAPIST, ADMIN")
	issueCmd.MarkFlagRequired("actor-id") //nolint:errcheck

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.mutate("DELETE", "/v1/auth/session", nil); err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Token = ""
			saveConfig() //nolint:errcheck
			printSuccess("Success! Session revoked.")
			return nil
		},
	}

	csrfCmd := &cobra.Command{
		Use:   "csrf",
		Short: "Mint a CSRF token for the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/session/csrf")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(issueCmd, revokeCmd, csrfCmd)
	return cmd
}

// --- data ---

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "data", Short: "Work with protected records"}

	createCmd := &cobra.Command{
		Use:   "create <entity> [key=value ...]",
		Short: "Create a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.mutate("POST", "/v1/data/"+args[0], map[string]any{"fields": fields})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Read a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/data/" + args[0] + "/" + args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <entity> [key=value ...]",
		Short: "List records, optionally filtered on plain fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, kv := range args[1:] {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				query.Set(parts[0], parts[1])
			}
			path := "/v1/data/" + args[0]
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if records, ok := result["data"].([]any); ok {
				printRecords(records)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update <entity> <id> [key=value ...]",
		Short: "Update fields on a record",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[2:])
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.mutate("PATCH", "/v1/data/"+args[0]+"/"+args[1], map[string]any{"fields": fields})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.mutate("DELETE", "/v1/data/"+args[0]+"/"+args[1], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Record deleted.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, getCmd, listCmd, updateCmd, deleteCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit log inspection (admin)"}

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if v, _ := cmd.Flags().GetString("entity"); v != "" {
				query.Set("entity", v)
			}
			if v, _ := cmd.Flags().GetString("actor-id"); v != "" {
				query.Set("actor_id", v)
			}
			if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
				query.Set("limit", fmt.Sprintf("%d", v))
			}
			path := "/v1/sys/audit-log"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				if entries, ok := d["entries"].([]any); ok && outputFormat != "table" {
					printRecords(entries)
					return nil
				}
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	logCmd.Flags().String("entity", "", "Filter by entity")
	logCmd.Flags().String("actor-id", "", "Filter by actor")
	logCmd.Flags().Int("limit", 0, "Maximum entries to return")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit chain integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/audit-log/verify")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(logCmd, verifyCmd)
	return cmd
}
