// Package cli parses the hotcap command line into a dispatchable command.
package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandTrigger Command = "trigger"
	CommandExport  Command = "export"
	CommandStatus  Command = "status"
	CommandStop    Command = "stop"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

type Parsed struct {
	Command    Command
	ConfigPath string
	// Seconds is the export window; zero means capture.export_seconds.
	Seconds uint16
	// Output overrides the export destination.
	Output   string
	ShowHelp bool
	// Help is the rendered help for the command that asked for it.
	Help string
}

// Parse runs args through the command tree without executing anything.
func Parse(args []string) (Parsed, error) {
	if args == nil {
		args = []string{}
	}
	parsed := Parsed{}
	root := newRoot("hotcap", &parsed)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}
	return parsed, nil
}

// HelpText is the root usage listing.
func HelpText(binaryName string) string {
	return newRoot(binaryName, &Parsed{}).UsageString()
}

func newRoot(binaryName string, parsed *Parsed) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   binaryName,
		Short: "Hotkey-triggered audio and screen capture daemon",
		Long: binaryName + ` keeps the last moments of microphone audio in memory. Each hotkey
press (or "` + binaryName + ` trigger") exports the recent audio, takes a screenshot,
and opens an interactive chat session in the terminal.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				parsed.Command = CommandVersion
				return nil
			}
			parsed.Command = CommandHelp
			parsed.ShowHelp = true
			parsed.Help = cmd.UsageString()
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
		parsed.Help = helpFor(cmd)
	})

	root.PersistentFlags().StringVar(&parsed.ConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/hotcap/config.yaml)")
	root.Flags().BoolVar(&showVersion, "version", false, "show version")

	leaf := func(command Command, short string) *cobra.Command {
		return &cobra.Command{
			Use:   string(command),
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				parsed.Command = command
				return nil
			},
		}
	}

	export := leaf(CommandExport, "Export the trailing audio window from the running daemon")
	export.Flags().Uint16Var(&parsed.Seconds, "seconds", 0, "window length in seconds (default capture.export_seconds)")
	export.Flags().StringVarP(&parsed.Output, "output", "o", "", "destination file (default output.dir/output.audio_file)")

	root.AddCommand(
		leaf(CommandRun, "Start capturing and serve hotkey and control requests"),
		leaf(CommandTrigger, "Run the export, screenshot, and chat pipeline once"),
		export,
		leaf(CommandStatus, "Print the daemon capture state"),
		leaf(CommandStop, "Stop the running daemon"),
		leaf(CommandDevices, "List available input devices"),
		leaf(CommandDoctor, "Run configuration and environment checks"),
		leaf(CommandVersion, "Print version information"),
	)
	return root
}

func helpFor(cmd *cobra.Command) string {
	var b strings.Builder
	if long := strings.TrimSpace(cmd.Long); long != "" {
		b.WriteString(long)
		b.WriteString("\n\n")
	} else if short := strings.TrimSpace(cmd.Short); short != "" {
		b.WriteString(short)
		b.WriteString("\n\n")
	}
	b.WriteString(cmd.UsageString())
	return b.String()
}
