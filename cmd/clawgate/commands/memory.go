package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
)

// newMemoryCmd creates the `clawgate memory` command group for inspecting
// and clearing long-term user memory.
func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term user memory",
		Long: `Inspect and manage the assistant's long-term memory. User keys have the
form platform:user_id, e.g. qq:12345 or lark:ou_abc.`,
	}
	cmd.AddCommand(
		newMemoryShowCmd(),
		newMemoryForgetCmd(),
	)
	return cmd
}

func newMemoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-key>",
		Short: "Print a user's stored memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			store := memory.New(cfg.Memory, newLogger(cmd, cfg))
			defer store.Close()

			content, err := store.Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("reading memory: %w", err)
			}
			if content == "" {
				fmt.Printf("No memory stored for %s.\n", args[0])
				return nil
			}
			fmt.Println(content)
			return nil
		},
	}
}

func newMemoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "forget <user-key>",
		Aliases: []string{"clear"},
		Short:   "Delete a user's stored memory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			store := memory.New(cfg.Memory, newLogger(cmd, cfg))
			defer store.Close()

			if err := store.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("deleting memory: %w", err)
			}
			fmt.Printf("Memory for %s deleted.\n", args[0])
			return nil
		},
	}
}
