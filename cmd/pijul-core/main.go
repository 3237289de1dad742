// Package main provides the pijul-core CLI entry point: a thin smoke-test
// harness around pkg/pristine (open a pristine, apply a change file, print
// a channel's log). It is not a remote protocol or a full porcelain CLI —
// those remain external collaborators per spec.md's Non-goals.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/pkg/config"
	"github.com/fossdd/pijul-sub000/pkg/pristine"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var dataDir string
	var channelName string

	rootCmd := &cobra.Command{
		Use:   "pijul-core",
		Short: "pijul-core - patch-based version control core",
		Long: `pijul-core is the graph/store/change/apply/record core of a
patch-based version control system: a persistent labeled multigraph pristine,
a content-addressed change format, and the apply/record engines that move
changes between a working copy and a channel.`,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./pristine", "pristine data directory")
	rootCmd.PersistentFlags().StringVar(&channelName, "channel", "main", "channel name")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pijul-core v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new pristine",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPristine(dataDir)
			if err != nil {
				return err
			}
			defer p.Close()
			fmt.Printf("initialized pristine at %s\n", dataDir)
			return nil
		},
	}
	rootCmd.AddCommand(initCmd)

	applyCmd := &cobra.Command{
		Use:   "apply [change-file]",
		Short: "Apply a change file to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(dataDir, channelName, args[0])
		},
	}
	rootCmd.AddCommand(applyCmd)

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Print a channel's applied-change log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(dataDir, channelName)
		},
	}
	rootCmd.AddCommand(logCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pristine store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(dataDir)
		},
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openPristine(dataDir string) (*pristine.Pristine, error) {
	cfg := config.LoadFromEnv()
	cfg.Pristine.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	stdLog := log.New(os.Stderr, "", log.LstdFlags)
	return pristine.Open(pristine.Options{
		Dir:        cfg.Pristine.DataDir,
		InMemory:   cfg.Pristine.InMemory,
		SyncWrites: cfg.Pristine.SyncWrites,
		Log:        stdr.New(stdLog),
	})
}

func runApply(dataDir, channelName, changeFile string) error {
	p, err := openPristine(dataDir)
	if err != nil {
		return err
	}
	defer p.Close()

	f, err := os.Open(changeFile)
	if err != nil {
		return fmt.Errorf("opening change file: %w", err)
	}
	defer f.Close()

	c := &change.Change{}
	if _, err := c.ReadFrom(f); err != nil {
		return fmt.Errorf("reading change file: %w", err)
	}

	ch, err := p.Channel(channelName)
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}

	id, merkle, err := p.Apply(context.Background(), ch, c)
	if err != nil {
		return fmt.Errorf("applying change: %w", err)
	}

	fmt.Printf("applied change %d, running state %s\n", id, merkle)
	return nil
}

func runLog(dataDir, channelName string) error {
	p, err := openPristine(dataDir)
	if err != nil {
		return err
	}
	defer p.Close()

	ch, err := p.Channel(channelName)
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}

	entries, err := p.Log(ch)
	if err != nil {
		return fmt.Errorf("reading log: %w", err)
	}

	for _, e := range entries {
		fmt.Printf("%d\t%s\t%s\n", e.Timestamp, e.Hash, e.Merkle)
	}
	return nil
}

func runStats(dataDir string) error {
	p, err := openPristine(dataDir)
	if err != nil {
		return err
	}
	defer p.Close()

	stats := p.Stats()
	fmt.Printf("lsm: %d bytes, vlog: %d bytes, total: %s\n", stats.LSMSize, stats.VLogSize, stats.HumanSize)
	return nil
}
