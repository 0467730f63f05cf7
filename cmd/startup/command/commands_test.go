package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cfn"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cw"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/inspect"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/ptr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func init() {
	SetupCommands("test")
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func testCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return testCommandIn(t, t.TempDir(), args...)
}

// testCommandIn runs the CLI in dir and returns what it printed.
func testCommandIn(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(dir)

	var stdout, stderr bytes.Buffer
	defaultTerm := term.DefaultTerm
	term.DefaultTerm = term.NewTerm(&stdout, &stderr)
	t.Cleanup(func() {
		term.DefaultTerm = defaultTerm
	})

	resetFlags(RootCmd)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(t.Context())
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := testCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "Startup Stack CLI: test\n", out)
}

func TestSynthCfn(t *testing.T) {
	out, err := testCommand(t, "synth")
	require.NoError(t, err)
	assert.Contains(t, out, "AWS::ApiGateway::Method")
	assert.Contains(t, out, "your-web-dev-bucket")
	assert.Contains(t, out, "no stage deploys it")
}

func TestSynthJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.json")
	out, err := testCommand(t, "synth", "--format", "json", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Template written to")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Resources map[string]any
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.NotEmpty(t, doc.Resources)
}

func TestSynthInvalidEngine(t *testing.T) {
	_, err := testCommand(t, "synth", "--engine", "pulumi")
	assert.ErrorContains(t, err, `invalid engine: "pulumi"`)

	_, err = testCommand(t, "up", "--engine", "cdk")
	assert.ErrorContains(t, err, `invalid engine: "cdk"`)
}

func TestJSONToYAML(t *testing.T) {
	out, err := jsonToYAML([]byte(`{"Resources":{"Api":{"Type":"AWS::ApiGateway::RestApi","DependsOn":["A","B"],"Properties":{"Enabled":"true","Port":"80"}}},"Count":2}`))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "{")
	assert.NotContains(t, string(out), "[")
	assert.True(t, strings.HasPrefix(string(out), "Resources:\n"), "key order must be kept:\n%s", out)
	assert.Contains(t, string(out), "    Type: AWS::ApiGateway::RestApi\n")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, map[string]any{
		"Resources": map[string]any{
			"Api": map[string]any{
				"Type":       "AWS::ApiGateway::RestApi",
				"DependsOn":  []any{"A", "B"},
				"Properties": map[string]any{"Enabled": "true", "Port": "80"},
			},
		},
		"Count": 2,
	}, doc)
}

func decodeConfig(t *testing.T, out string) types.Config {
	t.Helper()
	var cfg types.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	return cfg
}

func TestConfigStageAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tableName: OTHER_TABLE\nfunctionTimeout: 30s\n"), 0644))

	out, err := testCommand(t, "config", "--stage", "prod", "--config", path)
	require.NoError(t, err)
	cfg := decodeConfig(t, out)
	assert.Equal(t, "StartupStack-prod", cfg.StackName)
	assert.Equal(t, "your-web-prod-bucket", cfg.BucketName)
	assert.Equal(t, "OTHER_TABLE", cfg.TableName)
	assert.Equal(t, 30, cfg.FunctionTimeoutSeconds())
}

func TestConfigUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tabelName: typo\n"), 0644))

	_, err := testCommand(t, "config", "--config", path)
	assert.ErrorContains(t, err, "invalid stack configuration")
}

func TestConfigEnvironment(t *testing.T) {
	t.Setenv("STARTUP_STAGE", "qa")
	t.Cleanup(func() { os.Unsetenv("STARTUP_STACK") }) // set by godotenv

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".startuprc.qa"), []byte("STARTUP_STACK=QaStack\n"), 0644))

	out, err := testCommandIn(t, dir, "config")
	require.NoError(t, err)
	cfg := decodeConfig(t, out)
	assert.Equal(t, "qa", cfg.Stage)
	assert.Equal(t, "QaStack", cfg.StackName)
}

func TestConfigStageFromRcFile(t *testing.T) {
	t.Cleanup(func() {
		os.Unsetenv("STARTUP_STAGE") // set by .startuprc
		os.Unsetenv("STARTUP_STACK")
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".startuprc"), []byte("STARTUP_STAGE=qa\nSTARTUP_STACK=BaseStack\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".startuprc.qa"), []byte("STARTUP_STACK=QaStack\n"), 0644))

	out, err := testCommandIn(t, dir, "config")
	require.NoError(t, err)
	cfg := decodeConfig(t, out)
	assert.Equal(t, "qa", cfg.Stage)
	assert.Equal(t, "QaStack", cfg.StackName, ".startuprc.<stage> overrides .startuprc")
	assert.Equal(t, "your-web-qa-bucket", cfg.BucketName)
}

func TestInvalidStackName(t *testing.T) {
	_, err := testCommand(t, "config", "--stack", "1-bad_stack")
	assert.ErrorContains(t, err, `invalid stack name "1-bad_stack"`)
}

type fakeDriver struct {
	engine          Engine
	setUp, tornDown int
	outputs         types.Outputs
	outputsErr      error
}

func (f *fakeDriver) SetUp(ctx context.Context) error {
	f.setUp++
	return nil
}

func (f *fakeDriver) TearDown(ctx context.Context) error {
	f.tornDown++
	return nil
}

func (f *fakeDriver) Outputs(ctx context.Context) (types.Outputs, error) {
	return f.outputs, f.outputsErr
}

func useFakeDriver(t *testing.T, fake *fakeDriver) {
	t.Helper()
	orig := newDriver
	newDriver = func(engine Engine, cfg types.Config) (types.Driver, error) {
		fake.engine = engine
		return fake, nil
	}
	t.Cleanup(func() { newDriver = orig })
}

func TestUp(t *testing.T) {
	fake := &fakeDriver{outputs: types.Outputs{
		types.OutputApiURL:     "https://abc.execute-api.us-west-2.amazonaws.com/prod/",
		types.OutputBucketName: "your-web-dev-bucket",
	}}
	useFakeDriver(t, fake)

	out, err := testCommand(t, "up", "--engine", "pulumi")
	require.NoError(t, err)
	assert.Equal(t, EnginePulumi, fake.engine)
	assert.Equal(t, 1, fake.setUp)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"KEY", "VALUE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{types.OutputApiURL, "https://abc.execute-api.us-west-2.amazonaws.com/prod/"}, strings.Fields(lines[1]))
}

func TestDown(t *testing.T) {
	fake := &fakeDriver{}
	useFakeDriver(t, fake)

	out, err := testCommand(t, "destroy", "--stage", "prod")
	require.NoError(t, err)
	assert.Equal(t, EngineCfn, fake.engine)
	assert.Equal(t, 1, fake.tornDown)
	assert.Contains(t, out, "StartupStack-prod")
}

// missingAWS is an account in which nothing was deployed.
type missingAWS struct{}

var errNotFound = &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}

func (missingAWS) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return nil, errNotFound
}

func (missingAWS) GetDistribution(context.Context, *cloudfront.GetDistributionInput, ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error) {
	return nil, errNotFound
}

func (missingAWS) GetRepository(context.Context, *codecommit.GetRepositoryInput, ...func(*codecommit.Options)) (*codecommit.GetRepositoryOutput, error) {
	return nil, errNotFound
}

func (missingAWS) BatchGetProjects(_ context.Context, in *codebuild.BatchGetProjectsInput, _ ...func(*codebuild.Options)) (*codebuild.BatchGetProjectsOutput, error) {
	return &codebuild.BatchGetProjectsOutput{ProjectsNotFound: in.Names}, nil
}

func (missingAWS) GetPipeline(context.Context, *codepipeline.GetPipelineInput, ...func(*codepipeline.Options)) (*codepipeline.GetPipelineOutput, error) {
	return nil, errNotFound
}

func (missingAWS) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return nil, errNotFound
}

func (missingAWS) GetFunctionConfiguration(context.Context, *lambda.GetFunctionConfigurationInput, ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	return nil, errNotFound
}

func (missingAWS) GetResources(context.Context, *apigateway.GetResourcesInput, ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error) {
	return nil, errNotFound
}

func (missingAWS) GetMethod(context.Context, *apigateway.GetMethodInput, ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error) {
	return nil, errNotFound
}

func useInspector(t *testing.T, clients inspect.Clients) {
	t.Helper()
	orig := newInspector
	newInspector = func(ctx context.Context, cfg types.Config) (*inspect.Inspector, error) {
		return inspect.New(cfg, clients), nil
	}
	t.Cleanup(func() { newInspector = orig })
}

func TestStatusStackNotFound(t *testing.T) {
	useFakeDriver(t, &fakeDriver{outputsErr: &cfn.ErrStackNotFound{}})
	m := missingAWS{}
	useInspector(t, inspect.Clients{S3: m, CloudFront: m, CodeCommit: m, CodeBuild: m, CodePipeline: m, DynamoDB: m, Lambda: m, ApiGateway: m})

	out, err := testCommand(t, "status")
	assert.Equal(t, exitUnhealthy, err)
	assert.Contains(t, out, "StartupStack-dev not found")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "unknown")
}

func TestExecuteExitCode(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	defaultTerm := term.DefaultTerm
	term.DefaultTerm = term.NewTerm(&stdout, &stderr)
	t.Cleanup(func() { term.DefaultTerm = defaultTerm })

	resetFlags(RootCmd)
	RootCmd.SetArgs([]string{"synth", "--format", "toml"})
	err := Execute(t.Context())
	assert.Equal(t, ExitCode(1), err)
	assert.Contains(t, stderr.String(), `invalid format: "toml"`)
}

func TestColorMode(t *testing.T) {
	var c ColorMode
	require.NoError(t, c.Set("always"))
	assert.Equal(t, ColorAlways, c)
	assert.ErrorContains(t, c.Set("sometimes"), `invalid color: "sometimes"`)
	assert.Equal(t, "never", string(ColorNever.pulumi()))
	assert.Equal(t, "auto", string(ColorAuto.pulumi()))
}

type fakeLogs struct {
	input *cloudwatchlogs.FilterLogEventsInput
}

func (f *fakeLogs) FilterLogEvents(_ context.Context, in *cloudwatchlogs.FilterLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.input = in
	return &cloudwatchlogs.FilterLogEventsOutput{
		Events: []cwtypes.FilteredLogEvent{
			{EventId: ptr.String("1"), Message: ptr.String("START RequestId: 42\n"), Timestamp: ptr.Int64(time.Now().UnixMilli())},
		},
	}, nil
}

func TestLogs(t *testing.T) {
	fake := &fakeLogs{}
	orig := newLogsClient
	newLogsClient = func(ctx context.Context) (cw.FilterLogEventsAPI, error) {
		return fake, nil
	}
	t.Cleanup(func() { newLogsClient = orig })

	out, err := testCommand(t, "logs", "--stage", "prod", "--since", "1h", "--filter", "ERROR")
	require.NoError(t, err)
	assert.Contains(t, out, "START RequestId: 42\n")
	require.NotNil(t, fake.input)
	assert.Equal(t, "/aws/lambda/your-function", *fake.input.LogGroupName)
	assert.Equal(t, "ERROR", *fake.input.FilterPattern)
	assert.InDelta(t, time.Now().Add(-time.Hour).UnixMilli(), *fake.input.StartTime, float64(time.Minute.Milliseconds()))
}
