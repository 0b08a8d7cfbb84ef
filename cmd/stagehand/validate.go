package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without installing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(root.configPath) == "" {
				return errors.New("config file is required")
			}
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %q is valid: %d profile(s): %s\n",
				cfg.Name, len(cfg.Profiles), strings.Join(cfg.ProfileNames(), ", "))
			return nil
		},
	}
}
