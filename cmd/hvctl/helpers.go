package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/version"
)

// annotationLocal marks commands that do not need a running daemon.
const annotationLocal = "local"

func isLocal(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationLocal] != "" {
			return true
		}
	}
	return false
}

func parseFloatArg(arg, valueName string) (float64, error) {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return value, nil
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

// runVerb sends a verb without payload and logs the daemon response.
func runVerb(name string, fn func() (string, error)) error {
	ret, err := fn()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	if ret != "" {
		logrus.Debugf("daemon responded: %s", ret)
	}
	logrus.Infof("successfully sent %s", name)
	return nil
}
