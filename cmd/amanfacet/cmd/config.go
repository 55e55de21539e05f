package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanfacet/internal/config"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

const projectConfigName = ".amanfacet.yaml"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage amanfacet configuration files.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/amanfacet/config.yaml)
  3. Project config (.amanfacet.yaml, .amanfacet.yml or .amanfacet.toml)
  4. Environment variables (AMANFACET_*)`,
		Example: `  amanfacet config init
  amanfacet config show
  amanfacet config upgrade`,
	}

	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigUpgradeCmd(a))
	cmd.AddCommand(newConfigBackupCmd(a))
	cmd.AddCommand(newConfigRestoreCmd(a))

	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadedConfig()
			if err != nil {
				return err
			}
			out := a.printer(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(cfg)
			}

			shown := *cfg
			if shown.Backup.SecretKey != "" {
				shown.Backup.SecretKey = "********"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return amerrors.ConfigError("failed to marshal config", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON (credentials omitted)")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(config.GetUserConfigPath() + "\n"))
			return err
		},
	}
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write the default configuration to the user config file, or with
--project to .amanfacet.yaml in the current directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				dir, err := os.Getwd()
				if err != nil {
					return amerrors.New(amerrors.ErrCodeFilePermission, "cannot resolve working directory", err)
				}
				path = filepath.Join(dir, projectConfigName)
			}

			out := a.printer(cmd.OutOrStdout())
			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("config already exists: %s", path)
				out.Status("", "use --force to overwrite")
				return nil
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return err
			}
			out.Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&project, "project", false, "Write .amanfacet.yaml in the current directory")
	return cmd
}

func newConfigUpgradeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Add settings introduced since the user config was written",
		Long: `Fill settings missing from the user config with their defaults. The
previous file is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUserConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				return amerrors.New(amerrors.ErrCodeNotFound, "no user config to upgrade", nil).
					WithSuggestion("run 'amanfacet config init' first")
			}

			out := a.printer(cmd.OutOrStdout())
			added := cfg.MergeNewDefaults()
			if len(added) == 0 {
				out.Success("config is up to date")
				return nil
			}
			backup, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			if err := cfg.WriteYAML(config.GetUserConfigPath()); err != nil {
				return err
			}
			out.Successf("added %d settings", len(added))
			out.List(added)
			if backup != "" {
				out.KeyValue("Backup", backup)
			}
			return nil
		},
	}
}

func newConfigBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the user config to a timestamped backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			out := a.printer(cmd.OutOrStdout())
			if path == "" {
				out.Warning("no user config to back up")
				return nil
			}
			out.Successf("backed up to %s", path)
			return nil
		},
	}
}

func newConfigRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [BACKUP]",
		Short: "Restore the user config from a backup",
		Long:  `Without BACKUP, list the available backups, newest first.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := a.printer(cmd.OutOrStdout())
			if len(args) == 0 {
				backups, err := config.ListUserConfigBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					out.Status("", "no backups")
					return nil
				}
				out.List(backups)
				return nil
			}
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return err
			}
			out.Successf("restored %s", args[0])
			return nil
		},
	}
}
