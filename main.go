package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saworbit/patchforge/internal/metrics"
	"github.com/saworbit/patchforge/internal/version"
	"github.com/saworbit/patchforge/pkg/batch"
	"github.com/saworbit/patchforge/pkg/config"
	"github.com/saworbit/patchforge/pkg/patcher"
	"github.com/saworbit/patchforge/pkg/progress"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "patchforge",
		Short:   "PatchForge - large-file binary patch orchestrator",
		Version: version.Version,
	}

	root.AddCommand(newCreateCmd(), newApplyCmd(), newVerifyCmd(), newBatchCmd(), newHistoryCmd())
	return root
}

func newPatcher(cmd *cobra.Command) (*patcher.Patcher, error) {
	cfg := config.LoadFromEnv()

	if v, err := cmd.Flags().GetInt("level"); err == nil && cmd.Flags().Changed("level") {
		cfg.CompressionLevel = v
	}
	if v, err := cmd.Flags().GetInt("chunk-size-mb"); err == nil && cmd.Flags().Changed("chunk-size-mb") {
		cfg.ChunkSizeMB = v
	}
	if v, err := cmd.Flags().GetString("engine"); err == nil && cmd.Flags().Changed("engine") {
		cfg.Engine = v
	}
	if v, err := cmd.Flags().GetString("state-dir"); err == nil && cmd.Flags().Changed("state-dir") {
		cfg.StateDir = v
	}
	if v, err := cmd.Flags().GetDuration("timeout"); err == nil && cmd.Flags().Changed("timeout") {
		cfg.OperationTimeout = v
	}

	return patcher.New(cfg)
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().Int("level", 6, "Delta compression level (0-9)")
	cmd.Flags().Int("chunk-size-mb", 64, "Chunk size in MB for large-file processing")
	cmd.Flags().String("engine", "xdelta", "Delta engine: 'xdelta' or 'bsdiff'")
	cmd.Flags().String("state-dir", "", "Directory for the operation journal (disabled when empty)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Per-subprocess timeout")
	cmd.Flags().Bool("quiet", false, "Suppress progress output")
}

func progressObserver(cmd *cobra.Command) progress.Observer {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return nil
	}
	return func(s progress.Snapshot) {
		if s.BytesTotal > 0 {
			fmt.Fprintf(os.Stderr, "\r[%3d%%] %s (%d/%d bytes)", s.Percentage, s.Message, s.BytesCurrent, s.BytesTotal)
			return
		}
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %s", s.Percentage, s.Message)
	}
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <old> <new> <patch>",
		Short: "Create a patch that transforms <old> into <new>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPatcher(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Create(cmd.Context(), args[0], args[1], args[2], progressObserver(cmd))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			log.Printf("[create] %s: %d chunks, %d -> %d bytes (ratio %.3f) in %v",
				args[2], res.ChunkCount, res.NewSize, res.PatchSize, res.CompressionRatio, res.Duration)
			return nil
		},
	}

	addCommonFlags(cmd)
	return cmd
}

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <old> <patch> <out>",
		Short: "Apply a patch to <old>, restoring the new file at <out>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPatcher(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Apply(cmd.Context(), args[0], args[1], args[2], progressObserver(cmd))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			log.Printf("[apply] %s: %d chunks, %d bytes restored in %v",
				args[2], res.ChunkCount, res.NewSize, res.Duration)
			return nil
		},
	}

	addCommonFlags(cmd)
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <got> <want>",
		Short: "Byte-compare a restored file against the expected file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPatcher(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Verify(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			log.Printf("[verify] %s matches %s (%d bytes, %v)", args[0], args[1], res.NewSize, res.Duration)
			return nil
		},
	}

	addCommonFlags(cmd)
	return cmd
}

func newBatchCmd() *cobra.Command {
	var watch bool
	var maxParallel int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "batch <old-dir> <new-dir> <out-dir>",
		Short: "Create patches for every file in <new-dir> against <old-dir>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldDir, newDir, outDir := args[0], args[1], args[2]

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create out dir: %w", err)
			}

			p, err := newPatcher(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if metricsAddr != "" {
				go metrics.Serve(ctx, metricsAddr)
			}

			operation := func(ctx context.Context, pair batch.Pair) error {
				if err := os.MkdirAll(filepath.Dir(pair.PatchPath), 0o755); err != nil {
					return err
				}
				_, err := p.Create(ctx, pair.OldPath, pair.NewPath, pair.PatchPath, nil)
				return err
			}

			if watch {
				log.Printf("[batch] watching %s (ctrl-c to stop)", newDir)
				err := batch.Watch(ctx, oldDir, newDir, outDir, operation)
				if err == context.Canceled {
					return nil
				}
				return err
			}

			pairs, err := batch.DiscoverPairs(oldDir, newDir, outDir)
			if err != nil {
				return err
			}

			outcomes := batch.Run(ctx, pairs, operation, maxParallel)
			for _, o := range outcomes {
				metrics.ObserveBatchOutcome(string(o.Status))
				if o.Status != batch.Success {
					log.Printf("[batch] %s: %s (%s)", o.Name, o.Status, o.Message)
				}
			}

			s := batch.Summarize(outcomes)
			log.Printf("[batch] done: %d success, %d error, %d skipped", s.Success, s.Error, s.Skipped)

			if s.Error > 0 {
				return fmt.Errorf("%d of %d pairs failed", s.Error, len(outcomes))
			}
			return nil
		},
	}

	addCommonFlags(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and re-patch files as they change")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", batch.DefaultWorkers, "Concurrent pairs")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history --state-dir <dir>",
		Short: "List past operations recorded in the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, _ := cmd.Flags().GetString("state-dir")
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}

			journal, err := patcher.OpenJournal(stateDir)
			if err != nil {
				return err
			}
			defer journal.Close()

			results, err := journal.History(limit)
			if err != nil {
				return err
			}

			for _, r := range results {
				ts := time.Unix(0, r.Timestamp).Format(time.RFC3339)
				if r.Failed() {
					fmt.Printf("%s  %-7s %-8s %s\n", ts, r.Operation, r.Kind, r.Message)
					continue
				}
				fmt.Printf("%s  %-7s success  %d chunks, %d bytes, %v\n",
					ts, r.Operation, r.ChunkCount, r.PatchSize, r.Duration)
			}
			return nil
		},
	}

	cmd.Flags().String("state-dir", "", "Directory where the journal is stored")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to list (0 = all)")
	return cmd
}
