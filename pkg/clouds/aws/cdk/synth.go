package cdk

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
)

var ErrNoNode = errors.New("the CDK engine needs Node.js in PATH; install it or use the cfn engine")

// Synth writes the cloud assembly of the stack to outdir and returns the
// synthesized CloudFormation template. Call Close once the process is done
// with the CDK.
func Synth(cfg types.Config, region, outdir string) (template []byte, err error) {
	if _, err := os.Stat(cfg.FunctionCodePath); err != nil {
		return nil, fmt.Errorf("function code not found: %w", err)
	}
	if _, err := exec.LookPath("node"); err != nil {
		return nil, ErrNoNode
	}

	// jsii reports errors from the CDK as panics
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("CDK synthesis failed: %v", r)
		}
	}()

	app := awscdk.NewApp(&awscdk.AppProps{
		Outdir: jsii.String(outdir),
	})
	stack, err := NewStartupStack(app, cfg.StackName, &StartupStackProps{
		StackProps: awscdk.StackProps{
			Env:         env(region),
			Description: jsii.String("Startup stack (" + cfg.Stage + ")"),
		},
		Config: cfg,
	})
	if err != nil {
		return nil, err
	}

	term.Debug("Synthesizing CDK app to", outdir)
	assembly := app.Synth(nil)
	path := assembly.GetStackArtifact(stack.ArtifactId()).TemplateFullPath()
	return os.ReadFile(*path)
}

// Close stops the jsii kernel process.
func Close() {
	jsii.Close()
}

func env(region string) *awscdk.Environment {
	if region == "" {
		return nil // environment-agnostic
	}
	return &awscdk.Environment{
		Region: jsii.String(region),
	}
}
