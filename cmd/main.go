package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"convo/api"
	"convo/auth"
	"convo/contract"
	"convo/domain"
	"convo/domain/event"
	"convo/errors"
	"convo/internal"
	"convo/observability"
	"convo/repositories"
	"convo/runtime"
	"convo/services"
	"convo/transport"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles configuration loading, wiring, and the interactive loop.
// This pattern ensures clean resource management and error propagation:
// deferred cleanups execute before the process exits.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	identity, err := auth.FromToken(config.AuthToken)
	if err != nil {
		return exitConfig, fmt.Errorf("session token: %w", err)
	}

	wsURL, err := config.WebsocketURL()
	if err != nil {
		return exitConfig, err
	}

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Optional local message cache.
	var cache contract.MessageCache
	if config.CachePath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.CachePath).
			WithLoggingLevel(badger.ERROR))
		if err != nil {
			return exitRuntime, fmt.Errorf("cache opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing message cache...")
			_ = db.Close()
		}()
		repo := repositories.NewMessageRepository(db, log, config.HistoryLimit)
		cache = repo
	}

	// 4. Wire the conversation subsystem.
	gateway := api.NewClient(config.ServerURL, config.AuthToken, log)
	dialer := transport.NewDialer(wsURL, log)
	stats := observability.NewStats()
	coordinator := runtime.NewCoordinator(log, gateway, dialer, cache, stats, identity)
	coordinator.AddSink(&printSink{self: identity.UserID})
	defer coordinator.Close()

	chat := services.NewChatService(coordinator)

	if err := chat.Refresh(ctx); err != nil {
		// Listing failure is an empty state, not a fatal condition.
		log.Warn("Could not load conversations", "error", err)
	}
	renderConversations(chat.Conversations(), identity.UserID)

	log.Info(fmt.Sprintf(">>> Connected as @%s (Ctrl+C to quit). /open N, /new USER, /ls, /stats",
		identity.Username))

	// 5. Interactive loop: every line is either a command or a compose action.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if err := dispatch(ctx, chat, identity.UserID, line); err != nil {
				return exitRuntime, err
			}
		}
	}
}

func dispatch(ctx context.Context, chat services.IChatService, selfID, line string) error {
	switch {
	case strings.HasPrefix(line, "/ls"):
		if err := chat.Refresh(ctx); err != nil {
			color.Warn.Println("Listing failed, showing the last known state")
		}
		renderConversations(chat.Conversations(), selfID)

	case strings.HasPrefix(line, "/open "):
		idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
		if err != nil {
			color.Warn.Println("Usage: /open N")
			return nil
		}
		conversations := chat.Conversations()
		if idx < 1 || idx > len(conversations) {
			color.Warn.Printf("No conversation #%d\n", idx)
			return nil
		}
		conv := conversations[idx-1]
		if err := chat.SelectConversation(ctx, conv.ID); err != nil {
			color.Warn.Printf("Could not open conversation: %v\n", err)
			return nil
		}
		renderTimeline(chat.Timeline(conv.ID), selfID)

	case strings.HasPrefix(line, "/new "):
		userID := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
		conv, err := chat.StartConversation(ctx, userID)
		if err != nil {
			color.Warn.Printf("Could not start conversation: %v\n", err)
			return nil
		}
		if err := chat.SelectConversation(ctx, conv.ID); err != nil {
			color.Warn.Printf("Could not open conversation: %v\n", err)
			return nil
		}
		renderTimeline(chat.Timeline(conv.ID), selfID)

	case line == "/stats":
		s := chat.Stats()
		fmt.Printf("channel=%d fallback=%d failed=%d events=%d opened=%d closed=%d\n",
			s.ChannelSends, s.FallbackSends, s.FailedSends,
			s.EventsReceived, s.ChannelsOpened, s.ChannelsClosed)

	default:
		msg, err := chat.Compose(ctx, line)
		switch {
		case err == nil:
			// Nothing to print: the entry is already on the timeline.
		case errors.IsDelivery(err) || errors.IsConnection(err):
			// The failed entry stays visible; hand the text back for retry.
			color.Warn.Printf("Not delivered, press Enter to retry: %s\n", msg.Content)
		case errors.IsValidation(err):
			// Ignore blank input and sends without an open conversation.
		default:
			color.Warn.Printf("Send failed: %v\n", err)
		}
	}
	return nil
}

func renderConversations(conversations []domain.Conversation, selfID string) {
	if len(conversations) == 0 {
		fmt.Println("No conversations yet. Start one with /new USER_ID")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "With", "Last message", "Unread"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, conv := range conversations {
		other := conv.Other(selfID)
		last := lo.TernaryF(conv.LastMessage != nil,
			func() string { return lo.Ellipsis(conv.LastMessage.Content, 40) },
			func() string { return "No messages yet" })
		unread := ""
		if conv.UnreadCount > 0 {
			unread = color.New(color.BgRed, color.FgWhite).Render(strconv.Itoa(conv.UnreadCount))
		}
		table.Append([]string{strconv.Itoa(i + 1), "@" + other.Username, last, unread})
	}
	table.Render()
}

func renderTimeline(messages []domain.Message, selfID string) {
	for _, msg := range messages {
		fmt.Println(formatMessage(msg, selfID))
	}
}

func formatMessage(msg domain.Message, selfID string) string {
	author := "@" + msg.Sender.Username
	if msg.Sender.ID == selfID {
		author = color.New(color.FgCyan).Render("me")
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format(time.TimeOnly), author, msg.Content)
	switch msg.State {
	case domain.StatePending:
		return color.New(color.FgGray).Render(line + " …")
	case domain.StateFailed:
		return color.New(color.FgRed).Render(line + " ✗")
	default:
		return line
	}
}

// printSink renders live channel events as they arrive.
type printSink struct {
	self string
}

func (p *printSink) Consume(_ context.Context, e event.ChannelEvent) error {
	switch evt := e.(type) {
	case event.MessageReceived:
		fmt.Println(formatMessage(evt.Message, p.self))
	case event.ChannelClosed:
		if evt.Err != nil {
			color.Warn.Println("Live updates lost, reopen the conversation to recover")
		}
	}
	return nil
}
