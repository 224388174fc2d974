package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pdfchat/internal/storage"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat over the ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func init() {
	chatCmd.Flags().String("user", "default_user", "user the chat session belongs to")
	chatCmd.Flags().Bool("new-session", false, "start a fresh session instead of resuming the latest one")
}

func runChat(cmd *cobra.Command) error {
	userID, _ := cmd.Flags().GetString("user")
	newSession, _ := cmd.Flags().GetBool("new-session")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !a.embedder.IsRunning(ctx) {
		printWarning("embedding service at %s is not reachable; queries will fail until it is up", a.cfg.Embedding.BaseURL)
	}

	sess, resumed, err := openSession(a.store, userID, newSession)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	if resumed {
		printStep("Resuming session %s", sess.ID)
	} else {
		printStep("Started session %s", sess.ID)
	}
	fmt.Fprintln(os.Stderr, `Type your question, or "exit" to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(os.Stderr, colorize(colorBold, "you> "))
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}

		answer, err := a.agent.Ask(ctx, sess.ID, query)
		if err != nil && answer == "" {
			if ctx.Err() != nil {
				break
			}
			printError("%v", err)
			continue
		}

		fmt.Printf("%s %s\n", colorize(colorCyan, "pdfchat>"), answer)
	}

	fmt.Fprintln(os.Stderr, "bye")
	return scanner.Err()
}

// openSession resumes the user's most recent session, or creates one when
// the user has none yet or fresh is set. The second return reports whether
// an existing session was resumed.
func openSession(store *storage.Store, userID string, fresh bool) (storage.Session, bool, error) {
	if !fresh {
		sess, err := store.LatestSession(userID)
		if err == nil {
			return sess, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, false, err
		}
	}
	sess, err := store.CreateSession(userID)
	return sess, false, err
}
