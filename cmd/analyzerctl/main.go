package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/store"
	"github.com/jamzercise/lidify-fork/internal/workers"
	"github.com/jamzercise/lidify-fork/pkgs/utils"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "analyzerctl",
		Short:         "operator tooling for the CLAP audio analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "path to the env file")

	loadConfig := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <trackId> <filePath>",
		Short: "push an analysis job onto the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Mode)

			ctx, stop := signalContext()
			defer stop()

			brk, err := broker.New(ctx, cfg.Broker, logger)
			if err != nil {
				return err
			}
			defer brk.Close()

			payload, err := json.Marshal(workers.AnalysisJob{
				TrackID:  args[0],
				FilePath: args[1],
			})
			if err != nil {
				return err
			}
			if err := brk.Push(ctx, payload); err != nil {
				return err
			}
			fmt.Printf("queued track %s (%s)\n", args[0], args[1])
			return nil
		},
	}

	var embedTimeout time.Duration
	var embedRaw bool
	embedTextCmd := &cobra.Command{
		Use:   "embed-text <text>",
		Short: "request a text embedding and wait for the answer",
		Long: "Subscribes to the per-request response topic before publishing the request.\n" +
			"The analyzer publishes responses fire-and-forget, so a timeout means the\n" +
			"answer was produced while nobody listened, or never produced at all.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Mode)

			ctx, stop := signalContext()
			defer stop()

			brk, err := broker.New(ctx, cfg.Broker, logger)
			if err != nil {
				return err
			}
			defer brk.Close()

			requestID := uuid.NewString()
			sub, err := brk.Subscribe(ctx, workers.ResponseTopic(cfg.Broker.ResponsePrefix, requestID))
			if err != nil {
				return err
			}
			defer sub.Close()

			payload, err := json.Marshal(workers.TextEmbedRequest{
				RequestID: requestID,
				Text:      args[0],
			})
			if err != nil {
				return err
			}
			if err := brk.Publish(ctx, cfg.Broker.RequestTopic, payload); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(embedTimeout):
				return fmt.Errorf("no response within %s (request %s)", embedTimeout, requestID)
			case raw, ok := <-sub.Messages():
				if !ok {
					return fmt.Errorf("response subscription closed (request %s)", requestID)
				}
				if embedRaw {
					fmt.Println(string(raw))
					return nil
				}
				var resp workers.TextEmbedResponse
				if err := json.Unmarshal(raw, &resp); err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("embedding failed (request %s, model %s)", requestID, resp.ModelVersion)
				}
				fmt.Printf("request %s: %d dims, l2 %.4f, model %s\n",
					resp.RequestID, len(resp.Embedding), utils.L2Norm(resp.Embedding), resp.ModelVersion)
				return nil
			}
		},
	}
	embedTextCmd.Flags().DurationVar(&embedTimeout, "timeout", 30*time.Second, "how long to wait for the response")
	embedTextCmd.Flags().BoolVar(&embedRaw, "json", false, "print the raw response payload")

	statusCmd := &cobra.Command{
		Use:   "status <trackId>",
		Short: "show a track's analysis row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Mode)

			ctx, stop := signalContext()
			defer stop()

			st, err := store.Connect(ctx, cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			analysis, err := st.GetTrackAnalysis(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(analysis, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	rootCmd.AddCommand(enqueueCmd, embedTextCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
