package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cdk"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cfn"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/spf13/cobra"
)

const configNeeded = "config-needed" // annotation to indicate that a command needs the stack configuration
var configNeededAnnotation = map[string]string{configNeeded: ""}

func Execute(ctx context.Context) error {
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		var ec ExitCode
		if errors.As(err, &ec) {
			return ec
		}
		if !(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			term.Error("Error:", err)
		}

		if snf := new(cfn.ErrStackNotFound); errors.As(err, &snf) {
			printHint("The stack does not exist yet. To create it, do:", "up")
		}
		if errors.Is(err, cdk.ErrNoNode) {
			printHint("To synthesize the template without Node.js, do:", "synth --engine cfn")
		}
		return ExitCode(1)
	}

	if hasTty && term.HadWarnings() {
		term.Println("\nWarnings:")
		term.FlushWarnings()
	}
	return nil
}

func printHint(hint string, cmds ...string) {
	if pkg.GetenvBool("STARTUP_HIDE_HINTS") || !hasTty {
		return
	}

	executable := "startup"
	for _, name := range []string{"stage", "stack", "region", "config"} {
		if f := RootCmd.Flag(name); f != nil && f.Changed {
			executable += " --" + name + "=" + f.Value.String()
		}
	}

	term.Printf("\n%s\n\n", hint)
	for _, arg := range cmds {
		term.Printf("  %s %s\n\n", executable, arg)
	}
}

func SetupCommands(version string) {
	cobra.EnableTraverseRunHooks = true // we always need to run the RootCmd's pre-run hook

	RootCmd.Version = version
	RootCmd.PersistentFlags().Var(&colorMode, "color", fmt.Sprintf(`colorize output; one of %v`, allColorModes))
	RootCmd.PersistentFlags().BoolVar(&doDebug, "debug", false, "debug logging for troubleshooting the CLI")
	RootCmd.PersistentFlags().StringVarP(&stage, "stage", "s", stage, "deployment stage; part of every resource name")
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML file overriding the stage configuration")
	_ = RootCmd.MarkPersistentFlagFilename("config", "yml", "yaml")
	RootCmd.PersistentFlags().StringVarP(&region, "region", "r", "", "AWS region; defaults to the region of the AWS profile")
	RootCmd.PersistentFlags().StringVar(&stackName, "stack", "", "override the stack name")

	// Synth command
	synthCmd.Flags().Var(newEngineFlag(EngineCfn, EngineCdk), "engine", fmt.Sprintf("stack engine; one of %v", []Engine{EngineCfn, EngineCdk}))
	synthFormat := FormatYAML
	synthCmd.Flags().Var(&synthFormat, "format", fmt.Sprintf("template format; one of %v", allFormats))
	synthCmd.Flags().StringP("output", "o", "", "write the template to this file instead of stdout")
	RootCmd.AddCommand(synthCmd)

	// Deployment commands
	for _, cmd := range []*cobra.Command{upCmd, downCmd, statusCmd} {
		cmd.Flags().Var(newEngineFlag(EngineCfn, EnginePulumi), "engine", fmt.Sprintf("stack engine; one of %v", []Engine{EngineCfn, EnginePulumi}))
		RootCmd.AddCommand(cmd)
	}

	// Logs command
	logsCmd.Flags().Duration("since", 10*time.Minute, "show events newer than this")
	logsCmd.Flags().BoolP("follow", "f", false, "keep polling for new events")
	logsCmd.Flags().String("filter", "", "CloudWatch Logs filter pattern")
	RootCmd.AddCommand(logsCmd)

	// Config command
	RootCmd.AddCommand(configCmd)

	// Version command
	RootCmd.AddCommand(versionCmd)
}

var RootCmd = &cobra.Command{
	SilenceUsage:  true,
	SilenceErrors: true,
	Use:           "startup",
	Args:          cobra.NoArgs,
	Short:         "Deploy the startup AWS stack and check what is deployed.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if err = readGlobals(cmd.Flags()); err != nil {
			return err
		}
		term.SetDebug(doDebug)

		switch colorMode {
		case ColorNever:
			term.ForceColor(false)
		case ColorAlways:
			term.ForceColor(true)
		}

		if _, ok := cmd.Annotations[configNeeded]; !ok {
			return nil
		}
		config, err = loadConfig()
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Args:  cobra.NoArgs,
	Short: "Get version information for the CLI",
	RunE: func(cmd *cobra.Command, args []string) error {
		term.Print("Startup Stack CLI: ")
		term.Println(RootCmd.Version)
		return nil
	},
}
