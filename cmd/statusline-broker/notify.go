package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vladimir-ks/statusline-broker/internal/notification"
)

func newNotifyCmd() *cobra.Command {
	var typ string
	var message string
	var priority int

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Register a notification for display on the next gather",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseNotificationType(typ)
			if err != nil {
				return err
			}
			lo := newLayout(flags.baseDir)
			store := notification.New(lo.base)
			if err := store.Register(t, message, priority); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s notification\n", t)
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "notification type: version_update, slot_switch, restart_ready")
	cmd.Flags().StringVar(&message, "message", "", "notification body text")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority 1-10, higher shows first")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func parseNotificationType(s string) (notification.Type, error) {
	switch s {
	case "version_update":
		return notification.TypeVersionUpdate, nil
	case "slot_switch":
		return notification.TypeSlotSwitch, nil
	case "restart_ready":
		return notification.TypeRestartReady, nil
	default:
		return "", fmt.Errorf("notify: unknown type %q", s)
	}
}
