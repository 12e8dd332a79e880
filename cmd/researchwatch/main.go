// researchwatch is a small terminal companion for a ResearchFlow server: it
// lists sessions, starts runs, follows their progress and tails run logs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpericol/researchflow/internal/apiclient"
	"github.com/gpericol/researchflow/internal/poller"
)

var (
	flagServer   string
	flagInterval time.Duration
	flagBackoff  time.Duration
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8080", "ResearchFlow server URL")
	rootCmd.SilenceErrors = true

	watchCmd.Flags().DurationVar(&flagInterval, "interval", 2*time.Second, "pause between progress polls")
	watchCmd.Flags().DurationVar(&flagBackoff, "backoff", 5*time.Second, "pause after a failed poll")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(askCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("researchwatch failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "researchwatch",
	Short:        "Follow ResearchFlow research runs from the terminal",
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list research sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := apiclient.New(flagServer)
		researches, err := client.ListResearches(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range researches {
			fmt.Printf("%s  %-40s  %d group(s)\n", r.ID, r.Title, r.Groups)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <research-id> <group-index>",
	Short: "start a research run for a task group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupIndex, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("group index: %w", err)
		}
		client := apiclient.New(flagServer)
		if err := client.StartResearch(cmd.Context(), args[0], groupIndex); err != nil {
			return err
		}
		fmt.Println("run started")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <research-id> <group-index>",
	Short: "poll a run's progress until it completes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupIndex, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("group index: %w", err)
		}
		client := apiclient.New(flagServer)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		p := poller.New(client.CheckProgress, flagInterval, flagBackoff, logger)
		p.Set(ctx, args[0], groupIndex)
		defer p.Stop()

		for {
			select {
			case u := <-p.Updates():
				snap := u.Snapshot
				current := "-"
				if snap.CurrentTaskIndex != nil {
					current = strconv.Itoa(*snap.CurrentTaskIndex)
				}
				fmt.Printf("completed=%v in_progress=%v done_tasks=%v current=%s\n",
					snap.Completed, snap.InProgress, snap.CompletedTasks, current)
				if snap.Completed {
					if snap.RAGID != "" {
						fmt.Printf("knowledge index ready: %s\n", snap.RAGID)
					}
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <research-id>",
	Short: "print the most recent run log lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := cmd.Flags().GetInt("lines")
		if err != nil {
			return err
		}
		client := apiclient.New(flagServer)
		logs, err := client.GetLogs(cmd.Context(), args[0], lines)
		if err != nil {
			return err
		}
		for _, line := range logs {
			fmt.Println(line)
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <research-id> <group-index> <question>",
	Short: "query the knowledge index of a finished run",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupIndex, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("group index: %w", err)
		}
		client := apiclient.New(flagServer)

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		answer, err := client.ExecuteRAGQuery(ctx, args[0], groupIndex, args[2])
		if err != nil {
			return err
		}
		fmt.Println(answer.Response)
		if len(answer.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, s := range answer.Sources {
				fmt.Printf("  %.2f  %s  %s\n", s.Score, s.Title, s.URL)
			}
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().Int("lines", 50, "number of lines to fetch (0 = all)")
}
