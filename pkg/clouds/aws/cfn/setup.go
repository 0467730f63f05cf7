package cfn

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfnTypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/ptr"
)

// cfnAPI is the subset of the CloudFormation client used by the driver.
type cfnAPI interface {
	cloudformation.DescribeStacksAPIClient
	CreateStack(context.Context, *cloudformation.CreateStackInput, ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(context.Context, *cloudformation.UpdateStackInput, ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(context.Context, *cloudformation.DeleteStackInput, ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	UpdateTerminationProtection(context.Context, *cloudformation.UpdateTerminationProtectionInput, ...func(*cloudformation.Options)) (*cloudformation.UpdateTerminationProtectionOutput, error)
}

type AwsCfn struct {
	aws.Aws

	config    types.Config
	stackName string
	outputs   types.Outputs
	client    cfnAPI
}

var _ types.Driver = (*AwsCfn)(nil)

func New(cfg types.Config, region aws.Region) *AwsCfn {
	if cfg.StackName == "" {
		panic("stack must be set")
	}
	return &AwsCfn{
		Aws:       aws.Aws{Region: region},
		config:    cfg,
		stackName: cfg.StackName,
		outputs:   types.Outputs{},
	}
}

func (a *AwsCfn) newCloudFormationClient(ctx context.Context) (cfnAPI, error) {
	if a.client != nil {
		return a.client, nil
	}
	cfg, err := a.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.client = cloudformation.NewFromConfig(cfg)
	return a.client, nil
}

func (a *AwsCfn) updateStackAndWait(ctx context.Context, templateBody string) error {
	cfn, err := a.newCloudFormationClient(ctx)
	if err != nil {
		return err
	}

	// Check the template version first, to avoid updating to an outdated template
	if dso, err := cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: ptr.String(a.stackName)}); err == nil && len(dso.Stacks) == 1 {
		for _, output := range dso.Stacks[0].Outputs {
			if ptr.ToString(output.OutputKey) == OutputsTemplateVersion {
				deployedRev, _ := strconv.Atoi(ptr.ToString(output.OutputValue))
				if deployedRev > TemplateRevision {
					return fmt.Errorf("this CLI has an older CloudFormation template than the deployed %s stack: please update the CLI", a.stackName)
				}
			}
		}
	}

	uso, err := cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		Capabilities: []cfnTypes.Capability{cfnTypes.CapabilityCapabilityIam, cfnTypes.CapabilityCapabilityNamedIam},
		StackName:    ptr.String(a.stackName),
		TemplateBody: ptr.String(templateBody),
	})
	if err != nil {
		// Go SDK doesn't have --no-fail-on-empty-changeset; ignore ValidationError: No updates are to be performed.
		var apiError smithy.APIError
		if ok := errors.As(err, &apiError); ok && apiError.ErrorCode() == "ValidationError" && apiError.ErrorMessage() == "No updates are to be performed." {
			term.Info("CloudFormation stack", a.stackName, "is up to date")
			return a.FillOutputs(ctx)
		}
		return err // might call createStackAndWait depending on the error
	}

	term.Infof("Waiting for CloudFormation stack %s to be updated in %s...", a.stackName, a.Region)
	dso, err := cloudformation.NewStackUpdateCompleteWaiter(cfn, update1s).WaitForOutput(ctx, &cloudformation.DescribeStacksInput{
		StackName: uso.StackId,
	}, stackTimeout())
	if err != nil {
		return fmt.Errorf("failed to update CloudFormation stack: check the CloudFormation console (%s) for the %q stack to learn more: %w", aws.ConsoleURL(a.Region), a.stackName, err)
	}
	return a.fillWithOutputs(dso)
}

func (a *AwsCfn) createStackAndWait(ctx context.Context, templateBody string) error {
	cfn, err := a.newCloudFormationClient(ctx)
	if err != nil {
		return err
	}

	_, err = cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
		Capabilities:                []cfnTypes.Capability{cfnTypes.CapabilityCapabilityIam, cfnTypes.CapabilityCapabilityNamedIam},
		EnableTerminationProtection: ptr.Bool(true),
		OnFailure:                   cfnTypes.OnFailureDelete,
		StackName:                   ptr.String(a.stackName),
		TemplateBody:                ptr.String(templateBody),
	})
	if err != nil {
		// Ignore AlreadyExistsException; return all other errors
		var alreadyExists *cfnTypes.AlreadyExistsException
		if !errors.As(err, &alreadyExists) {
			return err
		}
	}

	term.Infof("Waiting for CloudFormation stack %s to be created in %s...", a.stackName, a.Region)
	dso, err := cloudformation.NewStackCreateCompleteWaiter(cfn, create1s).WaitForOutput(ctx, &cloudformation.DescribeStacksInput{
		StackName: ptr.String(a.stackName),
	}, stackTimeout())
	if err != nil {
		return fmt.Errorf("failed to create CloudFormation stack: check the CloudFormation console (%s) for the %q stack to learn more: %w", aws.ConsoleURL(a.Region), a.stackName, err)
	}
	return a.fillWithOutputs(dso)
}

func (a *AwsCfn) SetUp(ctx context.Context) error {
	template, err := CreateTemplate(a.config)
	if err != nil {
		return fmt.Errorf("failed to create CloudFormation template: %w", err)
	}

	templateBody, err := template.YAML()
	if err != nil {
		return err
	}

	for _, w := range a.config.Warnings() {
		term.Warn(w)
	}
	if pkg.GetenvBool("STARTUP_DRY_RUN") {
		term.Info("Dry run; not deploying CloudFormation stack", a.stackName)
		return nil
	}

	return a.upsertStackAndWait(ctx, templateBody)
}

func (a *AwsCfn) upsertStackAndWait(ctx context.Context, templateBody []byte) error {
	if err := a.updateStackAndWait(ctx, string(templateBody)); err != nil {
		// Check if the stack doesn't exist; if so, create it, otherwise return the error
		err = annotateCfnError(err)
		if snf := new(ErrStackNotFound); !errors.As(err, &snf) {
			return err
		}
		return a.createStackAndWait(ctx, string(templateBody))
	}
	return nil
}

type ErrStackNotFound = cfnTypes.StackNotFoundException

func annotateCfnError(err error) error {
	// Check if the stack doesn't exist (ValidationError); if so, return a nice error; workaround for https://github.com/aws/aws-sdk-go-v2/issues/2296
	var ae smithy.APIError
	if errors.As(err, &ae) && ae.ErrorCode() == "ValidationError" && strings.HasSuffix(ae.ErrorMessage(), " does not exist") {
		err = &ErrStackNotFound{Message: ptr.String(ae.ErrorMessage())}
	}
	return err
}

func (a *AwsCfn) FillOutputs(ctx context.Context) error {
	cfn, err := a.newCloudFormationClient(ctx)
	if err != nil {
		return err
	}

	dso, err := cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: ptr.String(a.stackName),
	})
	if err != nil {
		return annotateCfnError(err)
	}

	return a.fillWithOutputs(dso)
}

func (a *AwsCfn) fillWithOutputs(dso *cloudformation.DescribeStacksOutput) error {
	if len(dso.Stacks) != 1 {
		return fmt.Errorf("expected 1 CloudFormation stack, got %d", len(dso.Stacks))
	}
	stack := dso.Stacks[0]
	for _, output := range stack.Outputs {
		if output.OutputKey == nil || output.OutputValue == nil {
			continue
		}
		a.outputs[*output.OutputKey] = *output.OutputValue
	}

	if a.AccountID == "" && stack.StackId != nil {
		a.AccountID = aws.GetAccountID(*stack.StackId)
	}
	return nil
}

// Outputs returns the outputs of the deployed stack.
func (a *AwsCfn) Outputs(ctx context.Context) (types.Outputs, error) {
	if err := a.FillOutputs(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(a.outputs), nil
}

func (a *AwsCfn) TearDown(ctx context.Context) error {
	cfn, err := a.newCloudFormationClient(ctx)
	if err != nil {
		return err
	}

	// Disable termination protection before deleting the stack
	if _, err := cfn.UpdateTerminationProtection(ctx, &cloudformation.UpdateTerminationProtectionInput{
		StackName:                   ptr.String(a.stackName),
		EnableTerminationProtection: ptr.Bool(false),
	}); err != nil {
		if snf := new(ErrStackNotFound); errors.As(annotateCfnError(err), &snf) {
			return snf
		}
		term.Warnf("Failed to disable termination protection for CloudFormation stack %s: %v", a.stackName, err)
	}
	_, err = cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: ptr.String(a.stackName),
	})
	if err != nil {
		return err
	}

	term.Infof("Waiting for CloudFormation stack %s to be deleted in %s...", a.stackName, a.Region)
	return cloudformation.NewStackDeleteCompleteWaiter(cfn, delete1s).Wait(ctx, &cloudformation.DescribeStacksInput{
		StackName: ptr.String(a.stackName),
	}, stackTimeout())
}
