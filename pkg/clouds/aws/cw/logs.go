package cw

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go/ptr"
)

type FilterLogEventsAPI = cloudwatchlogs.FilterLogEventsAPIClient

type LogEvent = types.FilteredLogEvent

// LogGroupInput selects the events of one log group.
type LogGroupInput struct {
	LogGroupName  string
	FilterPattern string
}

// FunctionLogGroup is the log group Lambda writes to for the named function.
func FunctionLogGroup(functionName string) string {
	return "/aws/lambda/" + functionName
}

// QueryLogGroup pages through the events between start and end, oldest first.
// A zero end means now.
func QueryLogGroup(ctx context.Context, cw FilterLogEventsAPI, lgi LogGroupInput, start, end time.Time) (iter.Seq2[LogEvent, error], error) {
	if lgi.LogGroupName == "" {
		return nil, errors.New("LogGroupName is required")
	}
	if end.IsZero() {
		end = time.Now()
	}
	params := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: ptr.String(lgi.LogGroupName),
		StartTime:    ptr.Int64(start.UnixMilli()),   // rounds down
		EndTime:      ptr.Int64(end.UnixMilli() + 1), // round up
	}
	if lgi.FilterPattern != "" {
		params.FilterPattern = ptr.String(lgi.FilterPattern)
	}

	return func(yield func(LogEvent, error) bool) {
		paginator := cloudwatchlogs.NewFilterLogEventsPaginator(cw, params)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(LogEvent{}, err)
				return
			}
			for _, event := range page.Events {
				if !yield(event, nil) {
					return
				}
			}
		}
	}, nil
}

// Follow yields the events since the given time and then keeps polling for
// new ones until the context is done. A log group that does not exist yet is
// waited for, since Lambda creates it on the first invocation.
func Follow(ctx context.Context, cw FilterLogEventsAPI, lgi LogGroupInput, since time.Time, interval time.Duration) (iter.Seq2[LogEvent, error], error) {
	if lgi.LogGroupName == "" {
		return nil, errors.New("LogGroupName is required")
	}

	return func(yield func(LogEvent, error) bool) {
		// events sharing the last timestamp are seen again on the next poll
		seen := map[string]bool{}
		for {
			events, err := QueryLogGroup(ctx, cw, lgi, since, time.Time{})
			if err != nil {
				yield(LogEvent{}, err)
				return
			}
			for event, err := range events {
				if err != nil {
					var notFound *types.ResourceNotFoundException
					if errors.As(err, &notFound) {
						break
					}
					yield(LogEvent{}, err)
					return
				}
				id := ptr.ToString(event.EventId)
				if seen[id] {
					continue
				}
				if ts := time.UnixMilli(ptr.ToInt64(event.Timestamp)); ts.After(since) {
					since = ts
					clear(seen)
				}
				seen[id] = true
				if !yield(event, nil) {
					return
				}
			}

			select {
			case <-ctx.Done():
				yield(LogEvent{}, ctx.Err())
				return
			case <-time.After(interval):
			}
		}
	}, nil
}
