package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pyama86/slack-pulse/config"
	"github.com/pyama86/slack-pulse/handler"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	showDate   string
)

var rootCmd = &cobra.Command{
	Use:           "slack-pulse",
	Short:         "Weekly pulse report for a Slack project channel",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, classify and aggregate the window once, then deliver the report",
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on the configured cron schedule",
	RunE:  runServe,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored report for a date",
	RunE:  runShow,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set PULSE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	showCmd.Flags().StringVar(&showDate, "date", "", "Report date YYYY-MM-DD (default: today)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(showCmd)
}

// loadConfig は設定を読み込み、必須の値がそろっているか確認する
func loadConfig(required ...string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := checkRequired(cfg, required...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkRequired(cfg *config.Config, keys ...string) error {
	values := map[string]string{
		config.KeySlackBotToken: cfg.SlackBotToken,
		config.KeyChannelID:     cfg.ChannelID,
		config.KeyLeadUserIDs:   cfg.LeadUserIDs,
	}
	for _, k := range keys {
		if values[k] == "" {
			return fmt.Errorf("required configuration not set: %s", k)
		}
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.KeySlackBotToken, config.KeyChannelID, config.KeyLeadUserIDs)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := handler.NewHandler(ctx, cfg)
	if err != nil {
		return fmt.Errorf("NewHandler failed: %w", err)
	}
	defer h.Close()

	res, err := h.Run(ctx)
	if err != nil {
		var stageErr *handler.StageError
		if errors.As(err, &stageErr) {
			return fmt.Errorf("run failed at %s: %w", stageErr.Stage, stageErr.Err)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report %s (%s) delivered to %d recipient(s): %d new messages, %d unclassified\n",
		res.Report.RunID, res.Report.Source, len(res.Delivered), res.Ingest.Inserted, res.Classified.Unclassified)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.KeySlackBotToken, config.KeyChannelID, config.KeyLeadUserIDs)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := handler.NewHandler(ctx, cfg)
	if err != nil {
		return fmt.Errorf("NewHandler failed: %w", err)
	}
	defer h.Close()
	return h.StartScheduler(ctx)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.KeyChannelID)
	if err != nil {
		return err
	}
	date := showDate
	if date == "" {
		date = cfg.Now().Format("2006-01-02")
	}
	h, err := handler.NewHandler(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("NewHandler failed: %w", err)
	}
	defer h.Close()

	row, err := h.Show(cfg.ChannelID, date)
	if err != nil {
		return err
	}
	sent := "not sent"
	if row.ReportSent {
		sent = "sent"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s %s (%s, %s)\n\n%s", row.ChannelID, row.AnalysisDate, row.ReportSource, sent, row.ReportContent)
	return nil
}
