package command

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cw"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/smithy-go/ptr"
	"github.com/spf13/cobra"
)

const pollInterval = 2 * time.Second

// newLogsClient is a variable so tests can read from a fake log group.
var newLogsClient = func(ctx context.Context) (cw.FilterLogEventsAPI, error) {
	a := aws.Aws{Region: aws.Region(region)}
	awsCfg, err := a.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cloudwatchlogs.NewFromConfig(awsCfg), nil
}

var logsCmd = &cobra.Command{
	Use:         "logs",
	Aliases:     []string{"tail"},
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Show the logs of the function",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		follow, _ := cmd.Flags().GetBool("follow")
		filter, _ := cmd.Flags().GetString("filter")

		client, err := newLogsClient(cmd.Context())
		if err != nil {
			return err
		}

		lgi := cw.LogGroupInput{
			LogGroupName:  cw.FunctionLogGroup(config.FunctionName),
			FilterPattern: filter,
		}
		start := time.Now().Add(-since)
		var events iter.Seq2[cw.LogEvent, error]
		if follow {
			term.Infof("Tailing %s; press Ctrl+C to stop", lgi.LogGroupName)
			events, err = cw.Follow(cmd.Context(), client, lgi, start, pollInterval)
		} else {
			events, err = cw.QueryLogGroup(cmd.Context(), client, lgi, start, time.Time{})
		}
		if err != nil {
			return err
		}

		for event, err := range events {
			if err != nil {
				if follow && errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			printLogEvent(event)
		}
		return nil
	},
}

func printLogEvent(event cw.LogEvent) {
	var ts time.Time
	if event.Timestamp != nil {
		ts = time.UnixMilli(*event.Timestamp)
	}
	term.Printc(term.DebugColor, ts.Local().Format(time.RFC3339)+" ")
	term.Println(strings.TrimRight(ptr.ToString(event.Message), "\r\n"))
}
