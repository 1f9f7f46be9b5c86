package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/infra/feishu"
	"github.com/tgwatch/tg-session-watch/internal/infra/telegram"
)

func newNotifyCmd(v *viper.Viper) *cobra.Command {
	var mirror bool

	cmd := &cobra.Command{
		Use:   "notify <owner_id> <message>",
		Short: "Send a message to a bot user through the monitor bot",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, false)
			if err != nil {
				return err
			}
			if cfg.Telegram.MonitorToken() == "" {
				return errors.New("SESSION_BOT_TOKEN or MONITOR_BOT_TOKEN must be set")
			}

			owner, err := domain.ParseOwnerID(args[0])
			if err != nil {
				return err
			}
			message := strings.Join(args[1:], " ")

			bot := telegram.NewClient(nil, cfg.Telegram.BotAPIURL, cfg.Telegram.MonitorToken())
			if err := bot.SendMessage(cmd.Context(), int64(owner), message); err != nil {
				return fmt.Errorf("telegram: %w", err)
			}

			if mirror {
				if !cfg.Feishu.MirrorEnabled() {
					return errors.New("--feishu needs FEISHU_APP_ID, FEISHU_APP_SECRET and FEISHU_MIRROR_CHAT_ID")
				}
				client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
				if err := client.SendText(cmd.Context(), cfg.Feishu.MirrorChatID, message); err != nil {
					return fmt.Errorf("feishu: %w", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Message sent successfully!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&mirror, "feishu", false, "Also post the message to the Feishu mirror chat")
	return cmd
}
