package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minios-linux/docweave/i18n"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/settings"
)

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

// keyedProviders are the providers offered by auth login, in menu order.
var keyedProviders = []struct {
	id      string
	name    string
	helpURL string
}{
	{provider.ProviderAnthropic, "Anthropic", "https://console.anthropic.com/settings/keys"},
	{provider.ProviderOpenAI, "OpenAI", "https://platform.openai.com/api-keys"},
	{provider.ProviderCustomOpenAI, "Custom OpenAI", ""},
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: i18n.T("Manage provider API keys"),
		Long: i18n.T(`Manage API keys stored in $XDG_DATA_HOME/docweave/auth.json.

Keys are looked up in this order:
  1. --api-key flag
  2. DOCWEAVE_API_KEY environment variable
  3. ANTHROPIC_API_KEY environment variable (anthropic only)
  4. the credential store

Examples:
  docweave auth login                          Store an Anthropic key
  docweave auth login --provider custom-openai Store a key and endpoint
  docweave auth logout --provider openai       Remove the OpenAI key
  docweave auth logout                         Remove all keys
  docweave auth list                           Show stored keys`),
	}

	cmd.AddCommand(newAuthLoginCmd(), newAuthLogoutCmd(), newAuthListCmd())
	return cmd
}

func completeKeyedProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	out := make([]string, 0, len(keyedProviders))
	for _, p := range keyedProviders {
		out = append(out, p.id+"\t"+p.name)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func newAuthLoginCmd() *cobra.Command {
	var providerID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: i18n.T("Store an API key"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authLogin(providerID, os.Stdin)
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", provider.ProviderAnthropic, i18n.T("Provider to store the key for"))
	_ = cmd.RegisterFlagCompletionFunc("provider", completeKeyedProviders)
	return cmd
}

// authLogin reads a key (and, for custom endpoints, a base URL) from in.
func authLogin(providerID string, in io.Reader) error {
	var name, helpURL string
	for _, p := range keyedProviders {
		if p.id == providerID {
			name, helpURL = p.name, p.helpURL
		}
	}
	if name == "" {
		return fmt.Errorf(i18n.T("provider %q does not use API keys"), providerID)
	}

	keys, err := settings.Open()
	if err != nil {
		return err
	}
	current, _ := keys.Lookup(providerID)

	fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, fmt.Sprintf(i18n.T("%s API Key Setup"), name), colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if helpURL != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n\n", i18n.T("Get your API key from:"), colorGreen, helpURL, colorReset)
	}

	scanner := bufio.NewScanner(in)
	readLine := func(label string) (string, bool) {
		fmt.Fprintf(os.Stderr, "  %s ", label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	baseURL := ""
	if providerID == provider.ProviderCustomOpenAI {
		label := i18n.T("Endpoint URL:")
		if current.BaseURL != "" {
			label = fmt.Sprintf(i18n.T("Endpoint URL [%s]:"), current.BaseURL)
		}
		v, ok := readLine(label)
		if !ok {
			return errors.New(i18n.T("no input received"))
		}
		baseURL = v
		if baseURL == "" {
			baseURL = current.BaseURL
		}
		if baseURL == "" {
			return errors.New(i18n.T("an endpoint URL is required"))
		}
	}

	existing := current.Key
	label := i18n.T("Enter API key:")
	if existing != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n", i18n.T("Current key:"), colorYellow, settings.Mask(existing), colorReset)
		label = i18n.T("Enter new key to replace, or press Enter to keep:")
	}
	key, ok := readLine(label)
	if !ok {
		return errors.New(i18n.T("no input received"))
	}
	if key == "" {
		if existing == "" {
			return errors.New(i18n.T("no API key provided"))
		}
		key = existing
	}

	if err := keys.Put(providerID, settings.Credential{Key: key, BaseURL: baseURL}); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	logSuccess(fmt.Sprintf(i18n.T("%s API key saved"), name), "file", keys.Path())
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var providerID string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: i18n.T("Remove stored API keys"),
		Long: i18n.T(`Remove the stored key of one provider, or of all providers when
--provider is not given.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := settings.Open()
			if err != nil {
				return err
			}
			if providerID != "" {
				if err := keys.Delete(providerID); err != nil {
					return fmt.Errorf("removing %s credentials: %w", providerID, err)
				}
				logSuccess(fmt.Sprintf(i18n.T("%s credentials removed"), providerID))
				return nil
			}
			if err := keys.Clear(); err != nil {
				return err
			}
			logSuccess(i18n.T("all stored credentials removed"))
			return nil
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", "", i18n.T("Provider to log out (default: all)"))
	_ = cmd.RegisterFlagCompletionFunc("provider", completeKeyedProviders)
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("Show stored credentials"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := settings.Open()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Stored Credentials"), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			for _, p := range keyedProviders {
				entry, ok := keys.Lookup(p.id)
				if !ok {
					fmt.Fprintf(os.Stderr, "  %-14s %s%s%s\n", p.id, colorRed, i18n.T("not configured"), colorReset)
					continue
				}
				status := fmt.Sprintf("%s%s%s (key: %s)", colorGreen, i18n.T("configured"), colorReset, settings.Mask(entry.Key))
				if entry.BaseURL != "" {
					status += fmt.Sprintf("\n  %14s endpoint: %s", "", entry.BaseURL)
				}
				fmt.Fprintf(os.Stderr, "  %-14s %s\n", p.id, status)
			}

			fmt.Fprintf(os.Stderr, "\n  %s%s%s\n", colorYellow, i18n.T("Environment Variables"), colorReset)
			for _, env := range []string{settings.EnvAPIKey, settings.EnvAnthropicAPIKey} {
				if v := os.Getenv(env); v != "" {
					fmt.Fprintf(os.Stderr, "  %-18s %s%s%s %s\n", env+":", colorGreen, settings.Mask(v), colorReset, i18n.T("(overrides stored keys)"))
				} else {
					fmt.Fprintf(os.Stderr, "  %-18s %s%s%s\n", env+":", colorRed, i18n.T("not set"), colorReset)
				}
			}
			fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", i18n.T("File:"), keys.Path())
			return nil
		},
	}
}
