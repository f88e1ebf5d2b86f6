// Command kernel is a runnable entry point for the kernel core: it wires
// internal/boot's bring-up sequence behind a small cobra command, the way
// Biscuit's own main.go is the kernel's single entry point, without
// pretending to be bootloader-invoked.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kvisel/smpcore/internal/boot"
	"github.com/kvisel/smpcore/internal/klog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		ncpu     int
		pages    int
		duration time.Duration
	)

	root := &cobra.Command{
		Use:   "kernel",
		Short: "bring up the simulated SMP kernel core and run it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(cmd.Context(), boot.Config{
				NCPU:     ncpu,
				Pages:    pages,
				Duration: duration,
			})
		},
	}

	var flags *pflag.FlagSet = root.Flags()
	flags.IntVar(&ncpu, "ncpu", 4, "number of simulated CPUs")
	flags.IntVar(&pages, "pages", 4096, "size of the simulated physical page pool, in pages")
	flags.DurationVar(&duration, "duration", 5*time.Second, "how long to run before a clean shutdown (0 = until interrupted)")

	return root
}

func runBoot(ctx context.Context, cfg boot.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := boot.Init(cfg)
	if err != nil {
		return err
	}

	klog.Info("kernel: booted, entering run loop").Send()
	return k.Run(ctx)
}
