package pulumi

import (
	"context"
	"fmt"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	projectName   = "startup-stack"
	pluginVersion = "v5.42.0"
)

// stackOpener is auto.UpsertStackInlineSource or auto.SelectStackInlineSource.
type stackOpener func(ctx context.Context, stackName, projectName string, program pulumi.RunFunc, opts ...auto.LocalWorkspaceOption) (auto.Stack, error)

type AwsPulumi struct {
	aws.Aws
	config  types.Config
	color   Color
	outputs types.Outputs

	upsertStack stackOpener // creates the stack when missing; only SetUp may do that
	selectStack stackOpener
}

var _ types.Driver = (*AwsPulumi)(nil)

func New(cfg types.Config, region aws.Region, color Color) *AwsPulumi {
	if cfg.StackName == "" {
		panic("stack must be set")
	}
	return &AwsPulumi{
		Aws:         aws.Aws{Region: region},
		config:      cfg,
		color:       color,
		upsertStack: auto.UpsertStackInlineSource,
		selectStack: auto.SelectStackInlineSource,
	}
}

func (a *AwsPulumi) openStack(ctx context.Context, open stackOpener) (*auto.Stack, error) {
	if a.Region == "" {
		// resolve the region from the AWS profile, like the SDK would
		if _, err := a.LoadConfig(ctx); err != nil {
			return nil, err
		}
	}

	s, err := open(ctx, a.config.StackName, projectName, DeployFunc(a.config, a.Region.String()))
	if err != nil {
		if auto.IsSelectStack404Error(err) {
			return nil, fmt.Errorf("Pulumi stack %q not found: %w", a.config.StackName, err)
		}
		return nil, err
	}
	return &s, nil
}

// prepareStack opens the stack and readies it for an update or destroy.
func (a *AwsPulumi) prepareStack(ctx context.Context, open stackOpener) (*auto.Stack, error) {
	s, err := a.openStack(ctx, open)
	if err != nil {
		return nil, err
	}

	if err := s.Workspace().InstallPlugin(ctx, "aws", pluginVersion); err != nil {
		return nil, err
	}

	// Disable all default providers
	if err := s.SetConfig(ctx, "pulumi:disable-default-providers", auto.ConfigValue{Value: `["*"]`}); err != nil {
		return nil, err
	}

	return s, nil
}

func (a *AwsPulumi) SetUp(ctx context.Context) error {
	for _, w := range a.config.Warnings() {
		term.Warn(w)
	}

	s, err := a.prepareStack(ctx, a.upsertStack)
	if err != nil {
		return err
	}

	term.Infof("Updating Pulumi stack %s in %s...", a.config.StackName, a.Region)
	res, err := s.Up(ctx, optupColor(a.color), optup.ProgressStreams(term.Stdout()))
	if err != nil {
		return fmt.Errorf("failed to update Pulumi stack %q: %w", a.config.StackName, err)
	}

	a.fillOutputs(res.Outputs)
	return nil
}

// Outputs reads the outputs of an existing stack; it never creates one.
func (a *AwsPulumi) Outputs(ctx context.Context) (types.Outputs, error) {
	s, err := a.openStack(ctx, a.selectStack)
	if err != nil {
		return nil, err
	}

	o, err := s.Outputs(ctx)
	if err != nil {
		return nil, err
	}

	a.fillOutputs(o)
	return a.outputs, nil
}

func (a *AwsPulumi) fillOutputs(outputs auto.OutputMap) {
	a.outputs = types.Outputs{}
	for key, o := range outputs {
		if s, ok := o.Value.(string); ok {
			a.outputs[key] = s
		}
	}
}

func (a *AwsPulumi) TearDown(ctx context.Context) error {
	s, err := a.prepareStack(ctx, a.selectStack)
	if err != nil {
		return err
	}

	term.Infof("Destroying Pulumi stack %s in %s...", a.config.StackName, a.Region)
	if _, err := s.Destroy(ctx, optdestroyColor(a.color), optdestroy.ProgressStreams(term.Stdout())); err != nil {
		return fmt.Errorf("failed to destroy Pulumi stack %q: %w", a.config.StackName, err)
	}

	return s.Workspace().RemoveStack(ctx, a.config.StackName)
}

func (oc optupColor) ApplyOption(opts *optup.Options) {
	opts.Color = string(oc)
}

func (oc optdestroyColor) ApplyOption(opts *optdestroy.Options) {
	opts.Color = string(oc)
}
