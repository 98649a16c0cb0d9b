package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/tphakala/biosig-go/cmd"
	"github.com/tphakala/biosig-go/internal/conf"
)

// configEnv names an explicit config file when --config is not given
const configEnv = "BIOSIG_CONFIG"

func main() {
	settings, err := conf.Load(configFile(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configFile extracts --config ahead of cobra, since flag defaults are read
// from the loaded configuration.
func configFile(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.StringP(cmd.ConfigFlag, "c", os.Getenv(configEnv), "")
	_ = fs.Parse(args)
	return *path
}
