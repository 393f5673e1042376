package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swarm-chat/internal/app"
	"swarm-chat/internal/chat"
	"swarm-chat/internal/tui"
)

const (
	version = "1.0.0"
	repoURL = "https://github.com/swarm-chat/swarmchat"
)

func main() {
	var (
		configPath string
		mockMode   bool
	)

	root := &cobra.Command{
		Use:     "swarmchat",
		Short:   "Chat front-end for the agent swarm orchestrator",
		Long:    "swarmchat is a terminal chat client for an asynchronous agent swarm.\n\nIt submits your request as a remote task, streams the swarm's progress\nevents into the conversation and settles credit costs per answer.\n\nFor more information, visit: " + repoURL,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			mock := mockMode || cfg.Mock
			if !mock && cfg.NvmAPIKey == "" {
				// No credentials means no paid orchestrator; fall back to the
				// scripted demo instead of failing on the first send.
				mock = true
			}

			application, err := app.NewApplication(cfg, mock)
			if err != nil {
				return err
			}
			defer application.Close()

			return tui.Run(application)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: user config dir)")
	root.PersistentFlags().BoolVar(&mockMode, "mock", false, "run against the scripted demo orchestrator")

	var sendTimeout time.Duration
	sendCmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Submit one task and print the transcript without the TUI",
		Long:  "Submit a single message as a remote task, wait for the swarm to finish\nand print every transcript message to stdout.\n\nExamples:\n  swarmchat send \"Create a 30 second synthwave track\"\n  swarmchat --mock send \"Create an AI music video\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			mock := mockMode || cfg.Mock || cfg.NvmAPIKey == ""

			application, err := app.NewHeadlessApplication(cfg, mock)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			return runSend(ctx, application, args[0])
		},
	}
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Minute, "how long to wait for the task to finish")
	root.AddCommand(sendCmd)

	root.AddCommand(&cobra.Command{
		Use:   "config-init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = app.DefaultConfigPath()
			}
			if err := app.SaveConfig(app.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runSend drives a single conversation to completion and prints it. The
// registry's update callback wakes the wait loop; completion means a final
// answer or error arrived, or the deadline passed.
func runSend(ctx context.Context, application *app.Application, message string) error {
	updated := make(chan struct{}, 1)
	application.OnUpdate(func() {
		select {
		case updated <- struct{}{}:
		default:
		}
	})

	if err := application.Send(ctx, message); err != nil {
		return err
	}
	convID := application.Registry.ActiveID()

	printed := make(map[int]bool)
	flush := func() []chat.Message {
		msgs := application.Registry.MessagesFor(convID)
		for _, m := range msgs {
			if !printed[m.ID] {
				printed[m.ID] = true
				printMessage(m)
			}
		}
		return msgs
	}

	for !finished(flush()) {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "timed out waiting for the task to finish")
			return ctx.Err()
		case <-updated:
		case <-time.After(time.Second):
		}
	}

	// Give trailing side effects (burn lookup) a moment to land.
	time.Sleep(500 * time.Millisecond)
	flush()
	return nil
}

func finished(msgs []chat.Message) bool {
	for _, m := range msgs {
		if m.Kind == chat.KindFinalAnswer || m.Kind == chat.KindError {
			return true
		}
	}
	return false
}

func printMessage(m chat.Message) {
	label := string(m.Kind)
	if m.IsUser {
		label = "you"
	}
	fmt.Printf("[%s] %s\n", label, m.Content)
	if m.TxHash != "" {
		fmt.Printf("    tx: %s\n", m.TxHash)
	}
	if m.Attachments != nil {
		for _, part := range m.Attachments.Parts {
			fmt.Printf("    [%s] %s\n", m.Attachments.MimeType, part)
		}
	}
}
