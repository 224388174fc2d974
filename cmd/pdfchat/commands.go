package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pdfchat/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Ingest a PDF or web page into the knowledge base",
	Long: `Ingest a document into the knowledge base.

The source is a URL or a local file path. With no source, the configured
default document is ingested.

Examples:
  pdfchat ingest https://example.com/manual.pdf
  pdfchat ingest ./notes.pdf --chunk-size 200 --overlap 40
  pdfchat ingest --force https://example.com/manual.pdf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		overlap, _ := cmd.Flags().GetInt("overlap")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		source := a.cfg.Ingest.DefaultSource
		if len(args) == 1 {
			source = args[0]
		}
		ingestor := a.ingestor
		if chunkSize > 0 {
			ingestor = ingest.New(a.store, a.embedder, a.vectors, ingest.Options{
				ChunkSize: chunkSize,
				Overlap:   overlap,
			})
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Ingesting %s", source)
		res, err := ingestor.Ingest(ctx, source, force)
		if err != nil {
			return err
		}

		if res.Skipped {
			printSuccess("Already ingested as %s (%d chunks); use --force to re-ingest", res.Document.ID, res.Document.ChunkCount)
			return nil
		}
		printSuccess("Ingested %s (%d chunks)", res.Document.ID, res.Document.ChunkCount)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("force", false, "re-ingest even if the source was already loaded")
	ingestCmd.Flags().Int("chunk-size", 0, "chunk size in words (default from config)")
	ingestCmd.Flags().Int("overlap", 0, "chunk overlap in words (default from config)")
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.store.ListDocuments()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents ingested yet.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %s  %s  (%d chunks)\n",
				colorize(colorCyan, shortID(d.ID)),
				d.IngestedAt.Format(time.RFC3339),
				d.Source,
				d.ChunkCount,
			)
		}
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.store.ListSessions(userID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Printf("No sessions for %s.\n", userID)
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(s.ID)),
				s.CreatedAt.Format(time.RFC3339),
				s.UserID,
			)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().String("user", "default_user", "user whose sessions to list")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
