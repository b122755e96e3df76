package main

import (
	"fmt"
	"os"

	"github.com/cenkalti/digiscore"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configDir string

func main() {
	rootCmd := &cobra.Command{
		Use:          "digiscore",
		Short:        "Municipal digital services dashboard",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment variables still apply.
			_ = godotenv.Load()

			cfg, err := digiscore.LoadConfig(configDir)
			if err != nil {
				return eris.Wrap(err, "load config")
			}
			digiscore.Config = cfg

			if err := digiscore.InitLogger(cfg.Log); err != nil {
				return eris.Wrap(err, "init logger")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing config.yaml")

	rootCmd.AddCommand(digiscore.ProcessDataCmd)
	rootCmd.AddCommand(digiscore.ClusterCitiesCmd)
	rootCmd.AddCommand(digiscore.RecommendCmd)
	rootCmd.AddCommand(digiscore.ExportDBCmd)
	rootCmd.AddCommand(digiscore.ServeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch pipeline: process-data -> cluster-cities",
	RunE: func(cmd *cobra.Command, args []string) error {
		zap.L().Info("running full pipeline")
		if err := digiscore.ProcessDataCmd.RunE(cmd, args); err != nil {
			return err
		}
		if err := digiscore.ClusterCitiesCmd.RunE(cmd, args); err != nil {
			return err
		}
		zap.L().Info("pipeline complete")
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated tables, model and database",
	Run: func(cmd *cobra.Command, args []string) {
		paths := []string{
			digiscore.Config.Data.ProcessedPath,
			digiscore.Config.Data.ClusteredPath,
			digiscore.Config.Data.ModelPath,
			digiscore.Config.Data.DBPath,
		}
		for _, path := range paths {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				zap.L().Warn("failed to remove file", zap.String("path", path), zap.Error(err))
			}
		}
		zap.L().Info("cleaned generated artifacts")
	},
}
