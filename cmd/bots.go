package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botrelay/internal/chatbot"
	"github.com/nextlevelbuilder/botrelay/internal/store"
)

func botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect bots configured for an instance",
	}
	cmd.AddCommand(botsListCmd())
	return cmd
}

func botsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <instance>",
		Short: "List bots in evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *chatbot.Service) error {
				bots, err := svc.FindBots(ctx, args[0])
				if err != nil {
					return err
				}
				if len(bots) == 0 {
					fmt.Println("No bots.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENABLED\tTRIGGER\tENDPOINT")
				for _, b := range bots {
					fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", b.ID, b.Enabled, describeTrigger(b.TriggerRule), b.APIURL)
				}
				return tw.Flush()
			})
		},
	}
}

func describeTrigger(r store.TriggerRule) string {
	switch r.Type {
	case store.TriggerKeyword:
		return fmt.Sprintf("keyword %s %q", r.Operator, r.Value)
	case store.TriggerAdvanced:
		return fmt.Sprintf("advanced %q", r.Value)
	}
	return string(r.Type)
}
