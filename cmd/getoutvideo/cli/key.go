package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Provision, create, list, rotate and deactivate the API keys accepted by the gateway.",
	}

	cmd.AddCommand(newKeyProvisionCmd())
	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeySetActiveCmd("activate", true))
	cmd.AddCommand(newKeySetActiveCmd("deactivate", false))

	return cmd
}

// ---------- key provision ----------

func newKeyProvisionCmd() *cobra.Command {
	var (
		name   string
		rotate bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the frontend API key, or rotate it if one exists",
		Long: `Create the API key used by the frontend application. When a key already
exists you are asked whether to rotate it; --rotate or --yes skip the prompt.
The raw key is shown once and cannot be retrieved again.`,
		Example: `  getoutvideo key provision
  getoutvideo key provision --name "staging frontend" --rotate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyProvision(cmd, name, rotate || yes)
		},
	}

	cmd.Flags().StringVar(&name, "name", models.DefaultAPIKeyName, "Name of the key")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "Rotate the existing key without asking")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Answer yes to the rotate prompt")

	return cmd
}

func runKeyProvision(cmd *cobra.Command, name string, rotate bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	svc := st.keyService()
	out := cmd.OutOrStdout()

	issued, err := svc.Provision(ctx, name, false)
	if err == nil {
		printIssuedKey(out, "API key created:", issued)
		return nil
	}
	if !errors.Is(err, service.ErrKeyExists) {
		return fmt.Errorf("provision api key: %w", err)
	}

	existing := issued.APIKey
	fmt.Fprintf(out, "An API key already exists: %s (%s, created %s)\n",
		existing.Name, existing.KeyPrefix, existing.CreatedAt.Format("2006-01-02"))

	if !rotate {
		ok, err := confirm(cmd.InOrStdin(), out, "Rotate it? The current key stops working immediately. [y/N]: ")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Keeping the existing key.")
			return nil
		}
	}

	issued, err = svc.Rotate(ctx, existing.ID)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	printIssuedKey(out, "API key rotated:", issued)
	return nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an additional API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			issued, err := st.keyService().Create(context.Background(), name)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			printIssuedKey(cmd.OutOrStdout(), "API key created:", issued)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", models.DefaultAPIKeyName, "Name of the key")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			keys, err := st.keyService().List(context.Background())
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			return printKeyList(cmd.OutOrStdout(), keys, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printKeyList(out io.Writer, keys []models.APIKey, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys configured. Use 'getoutvideo key provision' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-12s  %-20s  %-6s  %-16s\n", "ID", "PREFIX", "NAME", "ACTIVE", "LAST USED")
	fmt.Fprintf(out, "%-36s  %-12s  %-20s  %-6s  %-16s\n", "--", "------", "----", "------", "---------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%-36s  %-12s  %-20s  %-6s  %-16s\n", k.ID, k.KeyPrefix, truncate(k.Name, 20), active, lastUsed)
	}
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <id>",
		Short: "Replace the secret of an API key",
		Long:  "Generate a new secret for the key. The previous secret stops working immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			issued, err := st.keyService().Rotate(context.Background(), id)
			if err != nil {
				return fmt.Errorf("rotate api key: %w", err)
			}

			printIssuedKey(cmd.OutOrStdout(), "API key rotated:", issued)
			return nil
		},
	}
}

// ---------- key activate / deactivate ----------

func newKeySetActiveCmd(use string, active bool) *cobra.Command {
	short := "Stop accepting an API key"
	if active {
		short = "Accept a previously deactivated API key again"
	}

	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			apiKey, err := st.keyService().SetActive(context.Background(), id, active)
			if err != nil {
				return fmt.Errorf("%s api key: %w", use, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key %s (%s) %sd.\n", apiKey.ID, apiKey.KeyPrefix, use)
			return nil
		},
	}
}

func printIssuedKey(out io.Writer, title string, issued *service.IssuedKey) {
	fmt.Fprintln(out, title)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:    %s\n", issued.APIKey.ID)
	fmt.Fprintf(out, "  Name:  %s\n", issued.APIKey.Name)
	fmt.Fprintf(out, "  Key:   %s\n", issued.Secret)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
