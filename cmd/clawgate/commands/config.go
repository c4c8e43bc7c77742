package commands

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawgate/pkg/clawgate/config"
)

// newConfigCmd creates the `clawgate config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s. Edit it, then run \"clawgate serve\".\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("config file:   %s\n", path)
			fmt.Printf("api base url:  %s\n", cfg.API.BaseURL)
			fmt.Printf("model:         %s\n", cfg.API.Model)
			fmt.Printf("gateway:       %s\n", cfg.Gateway.Address)
			fmt.Printf("session db:    %s\n", cfg.Session.DBPath)
			fmt.Printf("memory db:     %s\n", cfg.Memory.DBPath)
			var enabled []string
			if cfg.Channels.QQ.Enabled {
				enabled = append(enabled, "qq")
			}
			if cfg.Channels.Lark.Enabled {
				enabled = append(enabled, "lark")
			}
			if cfg.Channels.Discord.Enabled {
				enabled = append(enabled, "discord")
			}
			if len(enabled) == 0 {
				enabled = append(enabled, "none")
			}
			fmt.Printf("channels:      %s\n", strings.Join(enabled, ", "))
			fmt.Printf("keyring:       available=%v\n", config.KeyringAvailable())
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use the CLAWGATE_API_KEY environment variable instead")
			}
			fmt.Print("API key (input hidden): ")
			key, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			value := strings.TrimSpace(string(key))
			if value == "" {
				return fmt.Errorf("empty key")
			}
			if err := config.StoreAPIKey(value); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the API key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
