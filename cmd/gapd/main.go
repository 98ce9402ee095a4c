package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/gapchat/gap/internal/config"
	"github.com/gapchat/gap/internal/daemon"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "config file path")
	flag.Parse()

	if _, err := os.Stat(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: config %s: %v\n", *configFlag, err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
