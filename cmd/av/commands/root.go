package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assetvault/pkg/app"
	"assetvault/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// AV is the application shared by all subcommands.
	AV *app.App
	// ownsApp is set when PersistentPreRunE built AV and must close it.
	ownsApp bool
)

var rootCmd = &cobra.Command{
	Use:           "av",
	Short:         "assetvault: storage for 3D model assets",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if AV != nil {
			return nil
		}
		var err error
		AV, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize assetvault: %w", err)
		}
		ownsApp = true
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if !ownsApp {
			return nil
		}
		err := AV.Close()
		AV, ownsApp = nil, false
		return err
	},
}

// Execute is the entry point. SIGINT cancels in-flight storage calls.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.av/config.yaml)")

	// Flags override config file and environment.
	bind := func(flag, key, usage string) {
		rootCmd.PersistentFlags().String(flag, "", usage)
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
	bind("backend", "storage.backend", "storage backend: file, db or object")
	bind("storage-path", "storage.path", "root directory of the file backend")
	bind("bucket", "storage.object.bucket", "bucket of the object backend")
	bind("log-level", "log.level", "debug, info, warn or error")
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}
