/*
vkexec runs a transfer workload through the Vulkan execution layer and
reports submission and GPU timings.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vkexec/engine"
	"github.com/spaghettifunk/vkexec/engine/config"
	"github.com/spaghettifunk/vkexec/engine/core"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file, watched for changes")
	flag.Parse()

	cfg := config.Default()
	var opts []engine.Option
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			core.LogFatal("%s", err)
		}
		cfg = loaded
		opts = append(opts, engine.WithConfigFile(*configPath))
	}

	e, err := engine.New(cfg, opts...)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("%s", err)
	}

	// cancel the workload on SIGTERM and friends
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("%s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
