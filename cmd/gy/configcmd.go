package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/grabyard/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteSample(configPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "where to write the config")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and report missing secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: valid (platform %s, %d mirror(s))\n", configPath, cfg.Platform, len(cfg.Origin.Mirrors))

			missing := missingSecrets(cfg)
			for _, env := range missing {
				fmt.Fprintf(out, "  missing environment variable %s\n", env)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%d secret(s) not set", len(missing))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to grabyard config file")
	return cmd
}

// missingSecrets lists the token variables the selected platform needs but
// the environment does not provide.
func missingSecrets(cfg *config.Config) []string {
	var missing []string
	switch cfg.Platform {
	case config.PlatformDiscord:
		if cfg.Discord.Token() == "" {
			missing = append(missing, cfg.Discord.TokenEnv)
		}
	case config.PlatformSlack:
		if cfg.Slack.AppToken() == "" {
			missing = append(missing, cfg.Slack.AppTokenEnv)
		}
		if cfg.Slack.BotToken() == "" {
			missing = append(missing, cfg.Slack.BotTokenEnv)
		}
	}
	return missing
}
