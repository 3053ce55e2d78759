package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "secretplane",
	Short: "SecretPlane CLI",
	Long:  "A CLI for managing projects, secrets and their commit history in SecretPlane.",
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

	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(folderCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(tokenCmd())
}

// projectID resolves the target project from the --project flag or the saved
// config.
func projectID(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("project")
	if p == "" {
		p = cfg.Project
	}
	if p == "" {
		return "", fmt.Errorf("no project set: pass --project or run 'secretplane configure --project <id>'")
	}
	return p, nil
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "Project ID (defaults to configured project)")
	cmd.Flags().String("env", "dev", "Environment")
	cmd.Flags().String("path", "/", "Folder path")
}

// --- configure ---

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Save CLI connection settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			loadConfig()
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("token"); v != "" {
				cfg.Token = v
			}
			if v, _ := cmd.Flags().GetString("project"); v != "" {
				cfg.Project = v
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Configuration saved.")
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address")
	cmd.Flags().String("token", "", "API token")
	cmd.Flags().String("project", "", "Default project ID")
	return cmd
}

// --- project ---

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, _ := cmd.Flags().GetStringSlice("environments")
			client := newClient()
			body := map[string]any{"name": args[0]}
			if len(envs) > 0 {
				body["environments"] = envs
			}
			result, err := client.post("/v1/projects", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().StringSlice("environments", nil, "Environments (default dev,staging,prod)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/projects")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if projects, ok := result["projects"].([]any); ok {
				printList(projects, "ID", "Name")
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/projects/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Project deleted.")
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init <id>",
		Short: "Backfill commit history for an existing project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/projects/"+args[0]+"/initialize", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, deleteCmd, initCmd)
	return cmd
}

// --- folder ---

func folderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "folder", Short: "Manage folders"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder under --path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.post(
				"/v1/projects/"+project+"/environments/"+env+"/folders",
				map[string]any{"parentPath": path, "name": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List folders under --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/environments/" + env +
				"/folders?path=" + url.QueryEscape(path))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if folders, ok := result["folders"].([]any); ok {
				printList(folders, "ID", "Name", "Version")
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(listCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the folder at --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			if err := client.delete("/v1/projects/" + project + "/environments/" + env +
				"/folders?path=" + url.QueryEscape(path)); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Folder deleted.")
			return nil
		},
	}
	addScopeFlags(deleteCmd)

	renameCmd := &cobra.Command{
		Use:   "rename <new-name>",
		Short: "Rename the folder at --path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.patch(
				"/v1/projects/"+project+"/environments/"+env+"/folders",
				map[string]any{"path": path, "newName": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(renameCmd)

	cmd.AddCommand(createCmd, listCmd, deleteCmd, renameCmd)
	return cmd
}

// --- secret ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage secrets"}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Create or update a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.post(
				"/v1/projects/"+project+"/environments/"+env+"/secrets/"+url.PathEscape(args[0]),
				map[string]any{"path": path, "value": args[1]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(setCmd)

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			version, _ := cmd.Flags().GetInt("version")
			client := newClient()
			u := "/v1/projects/" + project + "/environments/" + env +
				"/secrets/" + url.PathEscape(args[0]) + "?path=" + url.QueryEscape(path)
			if version > 0 {
				u += "&version=" + strconv.Itoa(version)
			}
			result, err := client.get(u)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if sec, ok := result["secret"].(map[string]any); ok {
				printResult(sec)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(getCmd)
	getCmd.Flags().Int("version", 0, "Version to read (default: latest)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets under --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/environments/" + env +
				"/secrets?path=" + url.QueryEscape(path))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if secrets, ok := result["secrets"].([]any); ok {
				printList(secrets, "key", "value", "version")
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(listCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			if err := client.delete("/v1/projects/" + project + "/environments/" + env +
				"/secrets/" + url.PathEscape(args[0]) + "?path=" + url.QueryEscape(path)); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Secret deleted.")
			return nil
		},
	}
	addScopeFlags(deleteCmd)

	cmd.AddCommand(setCmd, getCmd, listCmd, deleteCmd)
	return cmd
}

// --- commit ---

func commitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "commit", Short: "Inspect and roll back commit history"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List commits for the folder at --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			limit, _ := cmd.Flags().GetInt("limit")
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/environments/" + env +
				"/commits?path=" + url.QueryEscape(path) + "&limit=" + strconv.Itoa(limit))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if commits, ok := result["commits"].([]any); ok {
				printList(commits, "CommitID", "ID", "Message", "ActorType")
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(listCmd)
	listCmd.Flags().Int("limit", 20, "Number of commits to show")

	showCmd := &cobra.Command{
		Use:   "show <commit-id>",
		Short: "Show a commit and its changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/commits/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	showCmd.Flags().String("project", "", "Project ID (defaults to configured project)")

	diffCmd := &cobra.Command{
		Use:   "diff <from-commit-id> <to-commit-id>",
		Short: "Diff folder state between two commits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/commits/compare?from=" +
				url.QueryEscape(args[0]) + "&to=" + url.QueryEscape(args[1]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if changes, ok := result["changes"].([]any); ok {
				printList(changes, "ChangeType", "Type", "Name", "Version")
				return nil
			}
			printResult(result)
			return nil
		},
	}
	diffCmd.Flags().String("project", "", "Project ID (defaults to configured project)")

	revertCmd := &cobra.Command{
		Use:   "revert <commit-id>",
		Short: "Record a new commit undoing the named one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/projects/"+project+"/commits/"+args[0]+"/revert", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	revertCmd.Flags().String("project", "", "Project ID (defaults to configured project)")

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Force a checkpoint for the folder at --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			env, _ := cmd.Flags().GetString("env")
			path, _ := cmd.Flags().GetString("path")
			client := newClient()
			result, err := client.post("/v1/projects/"+project+"/environments/"+env+
				"/checkpoints?path="+url.QueryEscape(path), nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addScopeFlags(checkpointCmd)

	cmd.AddCommand(listCmd, showCmd, diffCmd, revertCmd, checkpointCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage service tokens"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Issue a service token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			client := newClient()
			result, err := client.post("/v1/projects/"+project+"/tokens", map[string]any{
				"name":       args[0],
				"role":       role,
				"ttlSeconds": ttl,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("project", "", "Project ID (defaults to configured project)")
	createCmd.Flags().String("role", "viewer", "Role: admin, member, viewer")
	createCmd.Flags().Int64("ttl", 0, "Token TTL in seconds (0 = no expiry)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List service tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.get("/v1/projects/" + project + "/tokens")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tokens, ok := result["tokens"].([]any); ok {
				printList(tokens, "ID", "Name", "Kind", "Role")
				return nil
			}
			printResult(result)
			return nil
		},
	}
	listCmd.Flags().String("project", "", "Project ID (defaults to configured project)")

	revokeCmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a service token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectID(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			if err := client.delete("/v1/projects/" + project + "/tokens/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Token revoked.")
			return nil
		},
	}
	revokeCmd.Flags().String("project", "", "Project ID (defaults to configured project)")

	cmd.AddCommand(createCmd, listCmd, revokeCmd)
	return cmd
}
