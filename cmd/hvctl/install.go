package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/config"
	daemonutils "github.com/npm-group/hvctl/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install hvctl daemon as a systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationLocal: "true"},
		Long: `Install hvctl daemon as a systemd service.

This makes hvctl run in the background and start on boot. You must run this command as root.

The config file must exist and load; create one with 'hvctl config init'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", configPath, err)
			}
			if conf.AllowNonRoot {
				logrus.Info("non-root users are allowed to access the hvctl daemon.")
			} else {
				logrus.Info("only root user is allowed to access the hvctl daemon.")
			}

			err = daemonutils.Install(configPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `hvctl install' again.\n", exePath)

			return nil
		},
	}

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall hvctl daemon",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationLocal: "true"},
		Long: `Stop hvctl daemon and remove its systemd service.

The daemon resets the output before it exits. You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `hvctl' again.\n", configPath)

			return nil
		},
	}

	return cmd
}
