package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/courtdesk/courtdesk/internal/daemon"
	"github.com/courtdesk/courtdesk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.courtdesk/config.toml)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, ConfigPath: *configFlag}),
	)

	app.Run()
}
