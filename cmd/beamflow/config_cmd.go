package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beamflow/beamflow/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and save configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := cur.manager.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "List config file locations and which were loaded",
	RunE: func(cmd *cobra.Command, _ []string) error {
		loaded := make(map[string]bool)
		for _, p := range cur.manager.GetPaths() {
			loaded[p] = true
		}
		w := cmd.OutOrStdout()
		paths := config.SearchPaths()
		if configFile != "" {
			paths = append(paths, configFile)
		}
		for _, p := range paths {
			mark := " "
			if loaded[p] {
				mark = "*"
			} else if _, err := os.Stat(p); err != nil {
				mark = "-"
			}
			fmt.Fprintf(w, "%s %s\n", mark, p)
		}
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective configuration to ~/.beamflow/config.yaml",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cur.manager.Save()
		if err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configSaveCmd)
}
