// Command dlcmanagerctl drives a dlcmanager.Manager against a download
// directory and a superpack URL for manual testing: init, request a pack,
// and poll progress until the pack is done or has errored.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/davaengine/dlcmanager/dlcmanager"
	"github.com/davaengine/dlcmanager/internal/dlcconfig"
	"github.com/davaengine/dlcmanager/pkg/dlcdownload"
)

var (
	hintsPath string
	tickEvery time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlcmanagerctl",
		Short: "Drive a dlcmanager.Manager against a superpack URL",
	}
	rootCmd.PersistentFlags().StringVar(&hintsPath, "hints", "", "path to a Hints TOML file (defaults applied if omitted)")
	rootCmd.PersistentFlags().DurationVar(&tickEvery, "tick", 100*time.Millisecond, "frame delta used to drive the manager's loop")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(requestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <download-dir> <superpack-url>",
		Short: "Initialize against a superpack URL and report when Ready or Offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(args[0], args[1])
			if err != nil {
				return err
			}
			defer m.Close()
			return runInit(m)
		},
	}
}

func requestCmd() *cobra.Command {
	var packName string
	cmd := &cobra.Command{
		Use:   "request <download-dir> <superpack-url>",
		Short: "Initialize, then request one pack and report progress until done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if packName == "" {
				return fmt.Errorf("dlcmanagerctl: --pack is required")
			}
			m, err := newManager(args[0], args[1])
			if err != nil {
				return err
			}
			defer m.Close()
			if err := runInit(m); err != nil {
				return err
			}
			return runRequest(m, packName)
		},
	}
	cmd.Flags().StringVar(&packName, "pack", "", "name of the pack to request")
	return cmd
}

func newManager(downloadDir, url string) (*dlcmanager.Manager, error) {
	hints := dlcconfig.Defaults()
	if hintsPath != "" {
		var err error
		hints, err = dlcconfig.Load(hintsPath)
		if err != nil {
			return nil, err
		}
	}

	downloader := dlcdownload.New(
		dlcdownload.WithUserAgent("dlcmanagerctl/1.0"),
		dlcdownload.WithChunkBufSize(hints.DownloaderChunkBufSize),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	signals := dlcmanager.Signals{
		Error: func(info dlcmanager.ErrorInfo) {
			fmt.Fprintf(os.Stderr, "error: origin=%s detail=%s\n", info.Origin, info.Detail)
		},
		NetworkReady: func(ready bool) {
			fmt.Printf("network_ready=%v\n", ready)
		},
		InitializeFinished: func(downloaded, total uint32) {
			fmt.Printf("initialize_finished: %d/%d files already local\n", downloaded, total)
		},
		RequestStartLoading: func(r *dlcmanager.Request) {
			fmt.Printf("loading: %s\n", r.Name())
		},
		RequestUpdated: func(r *dlcmanager.Request) {
			p := r.Progress()
			fmt.Printf("progress: %s %d/%d bytes\n", r.Name(), p.AlreadyDownloaded, p.Total)
		},
	}

	return dlcmanager.New(downloadDir, url, downloader, hints, dlcmanager.WithLogger(logger), dlcmanager.WithSignals(signals))
}

func runInit(m *dlcmanager.Manager) error {
	m.Initialize()
	for !m.IsInitialized() {
		m.ContinueInitialization(tickEvery)
		time.Sleep(tickEvery)
	}
	fmt.Printf("init finished: state=%s\n", m.State())
	if m.State() == dlcmanager.Offline {
		return fmt.Errorf("dlcmanagerctl: manager went offline during initialization")
	}
	return nil
}

func runRequest(m *dlcmanager.Manager, name string) error {
	req := m.RequestPack(name)
	for req.State() != dlcmanager.Done && req.State() != dlcmanager.Errored {
		m.Update(false)
		time.Sleep(tickEvery)
	}
	if req.State() == dlcmanager.Errored {
		return fmt.Errorf("dlcmanagerctl: pack %q errored", name)
	}
	fmt.Printf("pack %q ready\n", name)
	return nil
}
