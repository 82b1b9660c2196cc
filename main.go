package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/config"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "taskboard",
		Short:        "Task lifecycle and deadline engine",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/taskboard/config.json)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(setCalendarCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads path, or the default config file when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("could not load configuration: %w", err)
		}
		return cfg, nil
	}
	return config.LoadFile(path)
}

func saveConfig(path string, cfg *config.Config) error {
	if path == "" {
		return config.Save(cfg)
	}
	return config.SaveFile(path, cfg)
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Calendar for the calendar mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.Reset(); err != nil {
				return err
			}
			if _, err := auth.GetClient(context.Background(), auth.CalendarScopes); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			path, _ := auth.TokenPath()
			fmt.Printf("Authentication successful! Token saved to %s\n", path)
			return nil
		},
	}
}

func setCalendarCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-calendar [name]",
		Short: "Set the Google Calendar that mirrors the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			cfg.Calendar = args[0]
			if err := saveConfig(*configPath, cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("Default calendar set to: %s\n", args[0])
			return nil
		},
	}
}

func setupLogger(env string) *logrus.Entry {
	log := logrus.New()

	switch env {
	case config.EnvLocal:
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case config.EnvDev:
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.JSONFormatter{})
	case config.EnvProd:
		log.SetLevel(logrus.WarnLevel)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return logrus.NewEntry(log).WithField("env", env)
}
