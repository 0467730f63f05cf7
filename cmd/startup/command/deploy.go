package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cfn"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/inspect"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/pulumi"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/spf13/cobra"
)

// newDriver is a variable so tests can deploy to a fake.
var newDriver = func(engine Engine, cfg types.Config) (types.Driver, error) {
	switch engine {
	case EngineCfn:
		return cfn.New(cfg, aws.Region(region)), nil
	case EnginePulumi:
		return pulumi.New(cfg, aws.Region(region), colorMode.pulumi()), nil
	default:
		return nil, fmt.Errorf("unsupported engine: %q", engine)
	}
}

// newInspector is a variable so tests can inspect a fake account.
var newInspector = func(ctx context.Context, cfg types.Config) (*inspect.Inspector, error) {
	a := aws.Aws{Region: aws.Region(region)}
	awsCfg, err := a.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	term.Debugf("Inspecting account %s in %s", a.AccountID, a.Region)
	return inspect.New(cfg, inspect.NewClients(awsCfg)), nil
}

func driverFor(cmd *cobra.Command) (types.Driver, error) {
	return newDriver(Engine(cmd.Flag("engine").Value.String()), config)
}

type outputRow struct {
	Key   string
	Value string
}

func printOutputs(outputs types.Outputs) error {
	rows := make([]outputRow, 0, len(outputs))
	for _, key := range slices.Sorted(maps.Keys(outputs)) {
		rows = append(rows, outputRow{Key: key, Value: outputs[key]})
	}
	return term.Table(rows, "Key", "Value")
}

var upCmd = &cobra.Command{
	Use:         "up",
	Aliases:     []string{"deploy"},
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Create or update the stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := driverFor(cmd)
		if err != nil {
			return err
		}
		if err := driver.SetUp(cmd.Context()); err != nil {
			return err
		}

		outputs, err := driver.Outputs(cmd.Context())
		if err != nil {
			return err
		}
		return printOutputs(outputs)
	},
}

var downCmd = &cobra.Command{
	Use:         "down",
	Aliases:     []string{"destroy"},
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Delete the stack and the resources it created",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := driverFor(cmd)
		if err != nil {
			return err
		}
		if err := driver.TearDown(cmd.Context()); err != nil {
			return err
		}
		term.Info("Stack", config.StackName, "deleted")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:         "status",
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Compare the deployed resources with the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := driverFor(cmd)
		if err != nil {
			return err
		}
		outputs, err := driver.Outputs(cmd.Context())
		if snf := new(cfn.ErrStackNotFound); errors.As(err, &snf) {
			term.Warnf("Stack %s not found; looking up resources by their configured names", config.StackName)
		} else if err != nil {
			return err
		}

		inspector, err := newInspector(cmd.Context(), config)
		if err != nil {
			return err
		}
		report, err := inspector.Inspect(cmd.Context(), outputs)
		if err != nil {
			return err
		}
		if err := term.Table(report, "Resource", "Name", "Status", "Details"); err != nil {
			return err
		}
		if !report.Healthy() {
			return exitUnhealthy
		}
		return nil
	},
}
