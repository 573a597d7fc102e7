// Liveprompt drives Ableton Live from natural-language prompts. A language
// model turns each prompt into one remote-script command, which is executed
// on Live's control socket.
//
// Usage:
//
//	liveprompt serve [--config configs/liveprompt.yaml]
//	liveprompt ask "set the tempo to 120"
//	liveprompt version
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "liveprompt",
	Short:         "Natural-language control of Ableton Live",
	Long:          `liveprompt asks a language model to translate a prompt into an Ableton Live remote-script command and executes it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
