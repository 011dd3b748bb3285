//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the workload on the local GPU. VKEXEC_CONFIG points to a TOML
// configuration file.
func (Run) Engine() error {
	mg.Deps(Build.Binary)

	args := []string{}
	if path := os.Getenv("VKEXEC_CONFIG"); path != "" {
		args = append(args, "-config", path)
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("bin/vkexec", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}
