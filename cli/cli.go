// Copyright 2015 The Skiff Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the command-line frontend: one optional positional
// argument naming the config file, then the event loop until a termination
// signal.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/config/parse"
	"github.com/skiffserv/skiff/server"
)

// Main runs the program and returns its exit code: 0 for a normal
// (signal-driven) exit, 1 for a startup failure or usage error.
func Main() int {
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "skiff [config-file]",
		Short:         skiff.SoftwareName + " is a poll-driven HTTP/1.1 origin server with CGI",
		Version:       skiff.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := skiff.DefaultConfigFile
			if len(args) == 1 {
				configFile = args[0]
			}
			return run(configFile, debug)
		},
	}
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		return 1
	}
	return 0
}

func run(configFile string, debug bool) error {
	setupLogger(debug)

	cfg, err := parse.File(configFile)
	if err != nil {
		return err
	}
	skiff.Log().Info("configuration loaded",
		zap.String("file", configFile),
		zap.Int("servers", len(cfg.Servers)),
		zap.Uint16s("ports", cfg.Ports()))

	return server.New(cfg).Run()
}

func setupLogger(debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return
	}
	skiff.SetLogger(log)
}
