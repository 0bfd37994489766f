package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/connector"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/logger"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/system"
	"github.com/spf13/cobra"

	"go.uber.org/fx"
)

var configFile string
var logDir string
var rulesPath string

var rootCmd = &cobra.Command{
	Use:   "emby-watchdog",
	Short: "Refresh Emby items whose playback fails",
	Long: `emby-watchdog tails the Emby server log directory and matches new lines
against a hot-reloadable rule set. Matching failures trigger a throttled
metadata refresh of the affected item.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := run(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Specify configuration file")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "Specify log directory to watch")
	rootCmd.Flags().StringVar(&rulesPath, "rules", "", "Specify rule document")
}

func main() {

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func run() error {

	config, err := configs.GetConfig(configFile)
	if err != nil {
		return err
	}

	overrides := map[string]interface{}{}
	if len(logDir) > 0 {
		overrides["watch.dir"] = logDir
	}
	if len(rulesPath) > 0 {
		overrides["rules.path"] = rulesPath
	}
	config.SetConfigs(overrides)

	err = config.Validate()
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(config),
		fx.Provide(
			logger.GetLogger,
			connector.New,
			dispatcher.New,
		),
		fx.Invoke(system.New),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()

	err = app.Start(startCtx)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), config.Dispatcher.ShutdownGrace+5*time.Second)
	defer cancel()

	return app.Stop(stopCtx)
}
