package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lavoo/supportdesk/internal/api"
	"github.com/lavoo/supportdesk/internal/badge"
	"github.com/lavoo/supportdesk/internal/config"
	"github.com/lavoo/supportdesk/internal/inbox"
	"github.com/lavoo/supportdesk/internal/stream"
	"github.com/lavoo/supportdesk/pkg/identity"
)

func newTailCmd() *cobra.Command {
	var (
		counterpartId int64
		showBadge     bool
	)

	cmd := &cobra.Command{
		Use:   "tail [counterpart-id]",
		Short: "Follow the admin inbox in real time",
		Long: `Follow the admin conversation inbox and print updates as pushes arrive.

With a counterpart id the conversation is opened and its timeline is
tailed; without one only conversation-list activity is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if _, err := fmt.Sscan(args[0], &counterpartId); err != nil {
					return fmt.Errorf("invalid counterpart id %q", args[0])
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			return runTail(cmd.Context(), cfg, counterpartId, showBadge)
		},
	}

	cmd.Flags().BoolVar(&showBadge, "badge", false, "print unread badge counts as they change")
	return cmd
}

func runTail(ctx context.Context, cfg *config.Config, counterpartId int64, showBadge bool) error {
	self, err := identity.FromToken(cfg.API.Token)
	if err != nil {
		return fmt.Errorf("resolve admin identity: %w", err)
	}

	apiClient, err := api.NewClient(cfg.API.BaseURL, api.WithToken(cfg.API.Token))
	if err != nil {
		return err
	}

	bus := badge.NewBus()
	notifier := badge.Notifier(bus)
	if cfg.Badge.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Badge.RedisAddr,
			Password: cfg.Badge.RedisPassword,
			DB:       cfg.Badge.RedisDB,
		})
		defer rdb.Close()
		notifier = badge.MultiNotifier{bus, badge.NewRedisNotifier(rdb, cfg.Badge.KeyPrefix, self.Id)}
	}

	out := os.Stdout

	ib := inbox.New(self, apiClient,
		inbox.WithNotifier(notifier),
		inbox.WithCallbacks(inbox.Callbacks{
			OnStreamState: func(connected bool) {
				if connected {
					fmt.Fprintln(out, "-- connected --")
				} else {
					fmt.Fprintln(out, "-- connection lost, retrying --")
				}
			},
			OnSendFailed: func(counterpartId, provisionalId int64, err error) {
				fmt.Fprintf(out, "!! reply to %d failed: %v\n", counterpartId, err)
			},
		}),
	)
	defer ib.Close()

	if err := ib.Load(ctx); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	printConversations(out, ib.Conversations())

	if counterpartId != 0 {
		ib.OpenConversation(ctx, counterpartId)
	}

	header := http.Header{}
	if cfg.API.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.API.Token)
	}
	if err := ib.Connect(cfg.Stream.URL,
		stream.WithReconnectDelay(cfg.Stream.ReconnectDelay),
		stream.WithMaxRetries(cfg.Stream.MaxRetries),
		stream.WithMaxMessageSize(cfg.Stream.MaxMessageSize),
		stream.WithRequestHeader(header),
	); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}

	if showBadge {
		go func() {
			for count := range bus.Subscribe() {
				fmt.Fprintf(out, "** unread conversations: %d\n", count)
			}
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lastLen := 0
	for {
		select {
		case <-quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if counterpartId == 0 {
				continue
			}
			msgs := ib.Timeline()
			for _, m := range msgs[min(lastLen, len(msgs)):] {
				printMessage(out, m)
			}
			lastLen = len(msgs)
		}
	}
}

func printConversations(out *os.File, convs []*inbox.Conversation) {
	for _, c := range convs {
		marker := " "
		if c.UnreadCount > 0 {
			marker = "*"
		}
		fmt.Fprintf(out, "%s [%d] %s <%s> (%s, %d unread): %s\n",
			marker, c.CounterpartId, c.CounterpartName, c.CounterpartEmail,
			c.Status, c.UnreadCount, c.LastMessage)
	}
}

func printMessage(out *os.File, m *inbox.Message) {
	ts := time.UnixMilli(m.CreatedAt).Format("15:04:05")
	if m.IsSystem() {
		fmt.Fprintf(out, "  ---- %s ----\n", m.Body)
		return
	}
	status := ""
	if m.SendStatus == inbox.SendPending {
		status = " (sending)"
	} else if m.SendStatus == inbox.SendFailed {
		status = " (failed)"
	}
	fmt.Fprintf(out, "  %s %s: %s%s\n", ts, m.SenderRole, m.Body, status)
}
