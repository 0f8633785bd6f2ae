package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	serverrun "github.com/open-chat-labs/open-chat-sub002/internal/cmd/server"
	cfgpkg "github.com/open-chat-labs/open-chat-sub002/internal/config"
)

func main() {
	logger := newLogger()

	rootCmd := &cobra.Command{
		Use:   "chatlogd",
		Short: "Chatlog runtime CLI",
		Long:  "Chatlogd is a single-binary chat event log runtime. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the chatlog server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if dataDir == "" {
				dataDir = cfg.DataDir
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:  dataDir,
				HTTPAddr: httpAddr,
				Config:   cfg,
				Logger:   logger,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (defaults to config httpAddr)")
	serverStartCmd.Flags().String("config", os.Getenv("CHATLOG_CONFIG"), "Config file path (JSON or YAML)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// chat operations against a running server
	chatCmd := &cobra.Command{Use: "chat", Short: "Chat operations"}

	chatCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			owner, _ := cmd.Flags().GetString("owner")
			return postJSON("/v1/chats/create", map[string]any{"name": name, "created_by": owner})
		},
	}
	chatCreateCmd.Flags().String("name", "", "Chat name")
	chatCreateCmd.Flags().String("owner", "", "Owner user id (uuid)")
	chatCmd.AddCommand(chatCreateCmd)

	chatListCmd := &cobra.Command{
		Use:   "list",
		Short: "List chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/chats/list")
		},
	}
	chatCmd.AddCommand(chatListCmd)

	chatSendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message",
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, _ := cmd.Flags().GetString("chat")
			sender, _ := cmd.Flags().GetString("sender")
			messageID, _ := cmd.Flags().GetString("message-id")
			text, _ := cmd.Flags().GetString("text")
			return postJSON("/v1/messages/send", map[string]any{
				"chat_id":      chatID,
				"sender":       sender,
				"message_id":   messageID,
				"content_kind": "text",
				"content":      map[string]string{"text": text},
			})
		},
	}
	chatSendCmd.Flags().String("chat", "", "Chat id (uuid)")
	chatSendCmd.Flags().String("sender", "", "Sender user id (uuid)")
	chatSendCmd.Flags().String("message-id", "", "Client message id for deduplication (uuid)")
	chatSendCmd.Flags().String("text", "", "Message text")
	chatCmd.AddCommand(chatSendCmd)

	chatEventsCmd := &cobra.Command{
		Use:     "events",
		Short:   "Read events from a chat",
		Aliases: []string{"inspect"},
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, _ := cmd.Flags().GetString("chat")
			user, _ := cmd.Flags().GetString("user")
			filter, _ := cmd.Flags().GetString("filter")
			order, _ := cmd.Flags().GetString("order")
			path := fmt.Sprintf("/v1/events?chat_id=%s&user_id=%s&order=%s", chatID, user, order)
			if filter != "" {
				path += "&filter=" + filter
			}
			return getJSON(path)
		},
	}
	chatEventsCmd.Flags().String("chat", "", "Chat id (uuid)")
	chatEventsCmd.Flags().String("user", "", "Reading user id (uuid)")
	chatEventsCmd.Flags().String("filter", "", "CEL filter expression (url-encoded)")
	chatEventsCmd.Flags().String("order", "asc", "asc|desc")
	chatCmd.AddCommand(chatEventsCmd)

	rootCmd.AddCommand(chatCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("CHATLOG_LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}
	out := io.Writer(os.Stderr)
	if os.Getenv("CHATLOG_LOG_FORMAT") != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func apiURL() string {
	if v := os.Getenv("CHATLOG_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}

func postJSON(path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("status:", resp.Status)
	if len(out) > 0 {
		fmt.Println(string(out))
	}
	return nil
}

func getJSON(path string) error {
	resp, err := http.Get(apiURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("status:", resp.Status)
	if len(out) > 0 {
		fmt.Println(string(out))
	}
	return nil
}
