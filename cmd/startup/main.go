package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/DefangLabs/startup-stack/cmd/startup/command"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cdk"
	"github.com/DefangLabs/startup-stack/pkg/logs"
	"github.com/DefangLabs/startup-stack/pkg/term"
)

var version = "development" // overwritten by ldflags

func main() {
	// Handle Ctrl+C so we can exit gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	slog.SetDefault(logs.NewTermLogger(term.DefaultTerm))
	command.SetupCommands(version)
	err := command.Execute(ctx)
	stop()
	if command.UsedCDK() {
		cdk.Close()
	}

	if err != nil {
		// If the error is a command.ExitCode, use its value as the exit code
		ec, ok := err.(command.ExitCode)
		if !ok {
			ec = 1 // should not happen since we always return ExitCode
		}
		os.Exit(int(ec))
	}
}
