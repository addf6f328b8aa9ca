package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"BlogPublisher/internal/app"
	"BlogPublisher/internal/config"
	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/usecase"
)

func main() {
	root := &cobra.Command{
		Use:           "blogpublisher",
		Short:         "Publishes scheduled blog posts from Airtable to WordPress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runCmd(),
		triggerCmd(),
		publishCmd(),
		serveCmd(),
		composeCmd(),
		journalCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the application.
func bootstrap(ctx context.Context) (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithFormat(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return app.New(ctx, cfg, logger)
}

func addCycleFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "scheduled", "Cycle mode: scheduled or immediate")
	cmd.Flags().String("record-id", "", "Restrict the cycle to one record")
}

func cycleRequest(cmd *cobra.Command) (usecase.Request, error) {
	rawMode, _ := cmd.Flags().GetString("mode")
	recordID, _ := cmd.Flags().GetString("record-id")
	mode, err := domain.ParseMode(rawMode)
	if err != nil {
		return usecase.Request{}, err
	}
	return usecase.Request{Mode: mode, RecordID: strings.TrimSpace(recordID)}, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the poll loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := cycleRequest(cmd)
			if err != nil {
				return err
			}
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()
			return application.RunLoop(cmd.Context(), req)
		},
	}
	addCycleFlags(cmd)
	return cmd
}

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run exactly one publication cycle and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := cycleRequest(cmd)
			if err != nil {
				return err
			}
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Trigger(cmd.Context(), req)
			if pErr := printJSON(cmd.OutOrStdout(), summary); pErr != nil {
				return pErr
			}
			return err
		},
	}
	addCycleFlags(cmd)
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [record-id]",
		Short: "Publish a record live now (default: the latest ready record)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := usecase.Request{Mode: domain.ModeImmediate}
			if len(args) == 1 {
				req.RecordID = strings.TrimSpace(args[0])
			}
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Trigger(cmd.Context(), req)
			if err != nil {
				return err
			}
			if pErr := printJSON(cmd.OutOrStdout(), summary); pErr != nil {
				return pErr
			}
			if len(summary.Results) == 0 {
				return fmt.Errorf("nothing to publish")
			}
			return summary.FirstError()
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger endpoints and run the poll loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			noLoop, _ := cmd.Flags().GetBool("no-loop")
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Serve(cmd.Context(), !noLoop)
		},
	}
	cmd.Flags().Bool("no-loop", false, "Only serve HTTP; rely on an external cron calling /cron/publish")
	return cmd
}

func composeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Generate a post from competitor articles and store it in Airtable",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyword, _ := cmd.Flags().GetString("keyword")
			additional, _ := cmd.Flags().GetString("additional")
			urls, _ := cmd.Flags().GetStringSlice("url")
			rawStatus, _ := cmd.Flags().GetString("status")
			rawPublishAt, _ := cmd.Flags().GetString("publish-at")

			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			req := usecase.ComposeRequest{
				PrimaryKeyword:     keyword,
				AdditionalKeywords: additional,
				URLs:               urls,
			}
			switch strings.ToLower(strings.TrimSpace(rawStatus)) {
			case "", "draft":
				req.Status = domain.StatusDraft
			case "scheduled":
				req.Status = domain.StatusScheduled
			case "ready", "publish", "published":
				req.Status = domain.StatusReadyToPublish
			default:
				return fmt.Errorf("unknown status %q", rawStatus)
			}
			if rawPublishAt != "" {
				publishAt, err := parseLocalTime(rawPublishAt, application.Location())
				if err != nil {
					return err
				}
				req.PublishAt = &publishAt
			}

			result, err := application.Compose(cmd.Context(), req)
			if pErr := printJSON(cmd.OutOrStdout(), result); pErr != nil {
				return pErr
			}
			return err
		},
	}
	cmd.Flags().String("keyword", "", "Primary keyword")
	cmd.Flags().String("additional", "", "Additional keywords, comma separated")
	cmd.Flags().StringSlice("url", nil, "Competitor article URL (repeatable)")
	cmd.Flags().String("status", "draft", "draft, scheduled or ready")
	cmd.Flags().String("publish-at", "", `Publish time, RFC3339 or "2006-01-02 15:04" in the scheduler timezone`)
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func journalCmd() *cobra.Command {
	journal := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the publication journal",
	}
	inconsistencies := &cobra.Command{
		Use:   "inconsistencies",
		Short: "List live posts whose Airtable write-back failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetUint64("limit")
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			entries, err := application.Inconsistencies(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	inconsistencies.Flags().Uint64("limit", 50, "Maximum entries to list")
	journal.AddCommand(inconsistencies)
	return journal
}

// parseLocalTime accepts RFC3339 or a wall-clock time in loc.
func parseLocalTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse publish time %q", value)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
