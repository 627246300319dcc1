package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botrelay/internal/chatbot"
	"github.com/nextlevelbuilder/botrelay/internal/config"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
)

// withService opens the configured stores for a one-shot CLI command.
func withService(fn func(ctx context.Context, svc *chatbot.Service) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreConfig().Mode == "memory" {
		return fmt.Errorf("database mode \"memory\" has no persistent data")
	}
	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()
	return fn(context.Background(), chatbot.NewService(stores, sessions.NewManager(stores.Sessions), nil))
}

func instancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manage messaging instances",
	}
	cmd.AddCommand(instancesListCmd())
	cmd.AddCommand(instancesAddCmd())
	return cmd
}

func instancesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *chatbot.Service) error {
				list, err := svc.ListInstances(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No instances.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID\tWEBHOOK")
				for _, inst := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", inst.Name, inst.ID, inst.WebhookURL)
				}
				return tw.Flush()
			})
		},
	}
}

func instancesAddCmd() *cobra.Command {
	var webhookURL string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *chatbot.Service) error {
				inst, err := svc.CreateInstance(ctx, args[0], webhookURL)
				if err != nil {
					return err
				}
				fmt.Printf("Instance %s created (%s)\n", inst.Name, inst.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "URL that receives bot replies for this instance")
	return cmd
}
