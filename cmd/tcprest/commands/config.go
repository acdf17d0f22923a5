package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/tcprest/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the tcprest configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the server would start with: the config file
merged with environment overrides and defaults, rendered as YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		cmd.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := GetConfigFile()
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		if err := config.Save(config.GetDefaultConfig(), path); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path in use",
	Run: func(cmd *cobra.Command, args []string) {
		path := GetConfigFile()
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		cmd.Println(path)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}
