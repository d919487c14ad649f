/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/config"
)

// Sorter represents the CLI application, encapsulating the root Cobra command.
type Sorter struct {
	cmd *cobra.Command
}

// sorterInstance carries the loaded configuration and the file it came from, so a
// reload reads the same file.
type sorterInstance struct {
	configFile string
	cnf        *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs.
func preRun(app *sorterInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(app.configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// NewCLI creates the command-line interface with the serve, rules and config commands.
func NewCLI() *Sorter {
	app := &sorterInstance{}

	var rootCmd = &cobra.Command{
		Use:          "sorting",
		Short:        "Parcel sorting rule engine",
		SilenceUsage: true,
		Run:          func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "./sorting.json", "Configuration file")
	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(serveCommands(app))
	rootCmd.AddCommand(rulesCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Sorter{cmd: rootCmd}
}

// executeCLI runs the root command and exits non-zero on failure.
func (s Sorter) executeCLI() {
	if err := s.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
