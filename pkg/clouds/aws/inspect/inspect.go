// Package inspect compares a deployed stack with the configuration it was
// declared from. It only reads from AWS.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusDrifted Status = "drifted"
	StatusMissing Status = "missing"
	StatusUnknown Status = "unknown"
	StatusError   Status = "error"
)

type Finding struct {
	Resource string
	Name     string
	Status   Status
	Details  string
}

type Report []Finding

// Healthy is true when every resource exists and matches the configuration.
func (r Report) Healthy() bool {
	for _, f := range r {
		if f.Status != StatusOK {
			return false
		}
	}
	return true
}

// API error codes meaning the resource does not exist, across the services inspected.
var notFoundCodes = map[string]bool{
	"NotFound":                        true,
	"NoSuchBucket":                    true,
	"NoSuchDistribution":              true,
	"RepositoryDoesNotExistException": true,
	"PipelineNotFoundException":       true,
	"ResourceNotFoundException":       true,
	"NotFoundException":               true,
}

const maxConcurrentChecks = 4

type Inspector struct {
	clients Clients
	config  types.Config
}

func New(cfg types.Config, clients Clients) *Inspector {
	return &Inspector{clients: clients, config: cfg}
}

type check func(ctx context.Context, outputs types.Outputs) (Finding, error)

// Inspect checks every resource of the stack. AWS API errors are reported as
// findings; any other error, like a cancelled context, aborts the inspection.
func (i *Inspector) Inspect(ctx context.Context, outputs types.Outputs) (Report, error) {
	checks := []check{
		i.checkBucket,
		i.checkDistribution,
		i.checkRepository,
		i.checkProject,
		i.checkPipeline,
		i.checkTable,
		i.checkFunction,
		i.checkRestApi,
	}

	report := make(Report, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for n, c := range checks {
		g.Go(func() error {
			f, err := c(ctx, outputs)
			if err != nil {
				return fmt.Errorf("inspecting %s %q: %w", f.Resource, f.Name, err)
			}
			term.Debugf("%s %q: %s", f.Resource, f.Name, f.Status)
			report[n] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// nameOf prefers the deployed name over the configured one.
func nameOf(outputs types.Outputs, key, configured string) string {
	if name := outputs[key]; name != "" {
		return name
	}
	return configured
}

// conclude sets the status of f from the lookup error, or from the drift found
// when the lookup succeeded.
func conclude(f Finding, err error, drift []string) (Finding, error) {
	var apiErr smithy.APIError
	switch {
	case err == nil && len(drift) == 0:
		f.Status = StatusOK
	case err == nil:
		f.Status = StatusDrifted
		f.Details = strings.Join(drift, "; ")
	case errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]:
		f.Status = StatusMissing
	case errors.As(err, &apiErr):
		f.Status = StatusError
		f.Details = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	default:
		return f, err
	}
	return f, nil
}

func unknown(f Finding, key string) (Finding, error) {
	f.Status = StatusUnknown
	f.Details = fmt.Sprintf("stack has no output %q", key)
	return f, nil
}

func expect[T comparable](drift *[]string, field string, got, want T) {
	if got != want {
		*drift = append(*drift, fmt.Sprintf("%s is %v, want %v", field, got, want))
	}
}
