package inspect

import (
	"context"
	"errors"
	"testing"

	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	agTypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cfTypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbTypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	ccTypes "github.com/aws/aws-sdk-go-v2/service/codecommit/types"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cpTypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdaTypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/ptr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDistributionID = "E2ABCDEF123456"
	testRestApiID      = "a1b2c3d4e5"
	testResourceID     = "rs1234"
)

// fakeAWS answers every lookup with a stack deployed from the default
// configuration; tests break it in the way they need.
type fakeAWS struct {
	errs map[string]error

	distribution *cfTypes.DistributionConfig
	projects     []cbTypes.Project
	stages       []string
	table        *ddbTypes.TableDescription
	function     *lambda.GetFunctionConfigurationOutput
	methods      map[string]agTypes.Method
	options      *agTypes.Integration
}

func newFakeAWS(cfg types.Config) *fakeAWS {
	errorResponse := func(code int32) cfTypes.CustomErrorResponse {
		return cfTypes.CustomErrorResponse{ErrorCode: ptr.Int32(code), ResponseCode: ptr.String("200"), ResponsePagePath: ptr.String("/index.html")}
	}
	return &fakeAWS{
		errs: map[string]error{},
		distribution: &cfTypes.DistributionConfig{
			Enabled:    ptr.Bool(true),
			PriceClass: cfTypes.PriceClassPriceClassAll,
			CustomErrorResponses: &cfTypes.CustomErrorResponses{
				Quantity: ptr.Int32(2),
				Items:    []cfTypes.CustomErrorResponse{errorResponse(403), errorResponse(404)},
			},
		},
		projects: []cbTypes.Project{{
			Name: ptr.String(cfg.ProjectName),
			Environment: &cbTypes.ProjectEnvironment{EnvironmentVariables: []cbTypes.EnvironmentVariable{
				{Name: ptr.String("S3_BUCKET_ARN"), Value: ptr.String("arn:aws:s3:::" + cfg.BucketName)},
			}},
		}},
		stages: []string{"Source", "Build"},
		table: &ddbTypes.TableDescription{
			KeySchema: []ddbTypes.KeySchemaElement{
				{AttributeName: ptr.String(cfg.PartitionKey), KeyType: ddbTypes.KeyTypeHash},
				{AttributeName: ptr.String(cfg.SortKey), KeyType: ddbTypes.KeyTypeRange},
			},
			ProvisionedThroughput: &ddbTypes.ProvisionedThroughputDescription{ReadCapacityUnits: ptr.Int64(1), WriteCapacityUnits: ptr.Int64(1)},
		},
		function: &lambda.GetFunctionConfigurationOutput{
			Runtime: lambdaTypes.Runtime(cfg.FunctionRuntime),
			Timeout: ptr.Int32(10),
			Environment: &lambdaTypes.EnvironmentResponse{
				Variables: cfg.FunctionEnvironment(cfg.TableName),
			},
		},
		methods: map[string]agTypes.Method{"POST": {}, "OPTIONS": {}},
		options: &agTypes.Integration{
			Type: agTypes.IntegrationTypeMock,
			IntegrationResponses: map[string]agTypes.IntegrationResponse{
				"200": {StatusCode: ptr.String("200"), ResponseParameters: cors.IntegrationResponseParameters(cfg.AllowedOrigin)},
			},
		},
	}
}

func (f *fakeAWS) clients() Clients {
	return Clients{S3: f, CloudFront: f, CodeCommit: f, CodeBuild: f, CodePipeline: f, DynamoDB: f, Lambda: f, ApiGateway: f}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeAWS) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.errs["s3"]
}

func (f *fakeAWS) GetDistribution(ctx context.Context, in *cloudfront.GetDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error) {
	if err := f.errs["cloudfront"]; err != nil {
		return nil, err
	}
	return &cloudfront.GetDistributionOutput{Distribution: &cfTypes.Distribution{Id: in.Id, DistributionConfig: f.distribution}}, nil
}

func (f *fakeAWS) GetRepository(ctx context.Context, in *codecommit.GetRepositoryInput, _ ...func(*codecommit.Options)) (*codecommit.GetRepositoryOutput, error) {
	if err := f.errs["codecommit"]; err != nil {
		return nil, err
	}
	return &codecommit.GetRepositoryOutput{RepositoryMetadata: &ccTypes.RepositoryMetadata{
		RepositoryName: in.RepositoryName,
		CloneUrlHttp:   ptr.String("https://git-codecommit.us-west-2.amazonaws.com/v1/repos/" + ptr.ToString(in.RepositoryName)),
	}}, nil
}

func (f *fakeAWS) BatchGetProjects(ctx context.Context, in *codebuild.BatchGetProjectsInput, _ ...func(*codebuild.Options)) (*codebuild.BatchGetProjectsOutput, error) {
	if err := f.errs["codebuild"]; err != nil {
		return nil, err
	}
	if len(f.projects) == 0 {
		return &codebuild.BatchGetProjectsOutput{ProjectsNotFound: in.Names}, nil
	}
	return &codebuild.BatchGetProjectsOutput{Projects: f.projects}, nil
}

func (f *fakeAWS) GetPipeline(ctx context.Context, in *codepipeline.GetPipelineInput, _ ...func(*codepipeline.Options)) (*codepipeline.GetPipelineOutput, error) {
	if err := f.errs["codepipeline"]; err != nil {
		return nil, err
	}
	pipeline := &cpTypes.PipelineDeclaration{Name: in.Name}
	for _, s := range f.stages {
		pipeline.Stages = append(pipeline.Stages, cpTypes.StageDeclaration{Name: ptr.String(s)})
	}
	return &codepipeline.GetPipelineOutput{Pipeline: pipeline}, nil
}

func (f *fakeAWS) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if err := f.errs["dynamodb"]; err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: f.table}, nil
}

func (f *fakeAWS) GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if err := f.errs["lambda"]; err != nil {
		return nil, err
	}
	return f.function, nil
}

func (f *fakeAWS) GetResources(ctx context.Context, in *apigateway.GetResourcesInput, _ ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error) {
	if err := f.errs["apigateway"]; err != nil {
		return nil, err
	}
	return &apigateway.GetResourcesOutput{Items: []agTypes.Resource{
		{Id: ptr.String("root"), Path: ptr.String("/")},
		{Id: ptr.String(testResourceID), Path: ptr.String("/your-du"), PathPart: ptr.String("your-du"), ResourceMethods: f.methods},
	}}, nil
}

func (f *fakeAWS) GetMethod(ctx context.Context, in *apigateway.GetMethodInput, _ ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error) {
	if ptr.ToString(in.ResourceId) != testResourceID || ptr.ToString(in.HttpMethod) != "OPTIONS" {
		return nil, apiError("NotFoundException")
	}
	return &apigateway.GetMethodOutput{HttpMethod: in.HttpMethod, MethodIntegration: f.options}, nil
}

func deployedOutputs() types.Outputs {
	return types.Outputs{
		types.OutputBucketName:     "your-web-dev-bucket",
		types.OutputDistributionID: testDistributionID,
		types.OutputTableName:      "YOUR_TABLE",
		types.OutputRestApiID:      testRestApiID,
	}
}

func byResource(report Report) map[string]Finding {
	findings := map[string]Finding{}
	for _, f := range report {
		findings[f.Resource] = f
	}
	return findings
}

func TestInspectHealthy(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	i := New(cfg, newFakeAWS(cfg).clients())

	report, err := i.Inspect(t.Context(), deployedOutputs())
	require.NoError(t, err)
	require.Len(t, report, 8)
	for _, f := range report {
		assert.Equal(t, StatusOK, f.Status, "%s %q: %s", f.Resource, f.Name, f.Details)
	}
	assert.True(t, report.Healthy())
	assert.Equal(t, "bucket", report[0].Resource)
	assert.Equal(t, "rest api", report[7].Resource)
}

func TestInspectWithoutOutputs(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	i := New(cfg, newFakeAWS(cfg).clients())

	report, err := i.Inspect(t.Context(), nil)
	require.NoError(t, err)
	findings := byResource(report)
	assert.Equal(t, StatusUnknown, findings["distribution"].Status)
	assert.Equal(t, StatusUnknown, findings["rest api"].Status)
	assert.Equal(t, StatusOK, findings["table"].Status)
	assert.Equal(t, cfg.BucketName, findings["bucket"].Name)
	assert.False(t, report.Healthy())
}

func TestInspectMissing(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	fake := newFakeAWS(cfg)
	fake.errs["s3"] = apiError("NotFound")
	fake.errs["dynamodb"] = &ddbTypes.ResourceNotFoundException{Message: ptr.String("Requested resource not found")}
	fake.projects = nil

	report, err := New(cfg, fake.clients()).Inspect(t.Context(), deployedOutputs())
	require.NoError(t, err)
	findings := byResource(report)
	assert.Equal(t, StatusMissing, findings["bucket"].Status)
	assert.Equal(t, StatusMissing, findings["table"].Status)
	assert.Equal(t, StatusMissing, findings["build project"].Status)
	assert.Equal(t, StatusOK, findings["pipeline"].Status)
}

func TestInspectDrift(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	fake := newFakeAWS(cfg)
	fake.distribution.CustomErrorResponses.Items = fake.distribution.CustomErrorResponses.Items[:1]
	fake.stages = []string{"Source", "Build", "Deploy"}
	fake.table.KeySchema[1].AttributeName = ptr.String("email")
	fake.function.Timeout = ptr.Int32(3)
	fake.function.Environment.Variables = map[string]string{"TZ": "UTC"}
	fake.methods = map[string]agTypes.Method{"POST": {}}

	report, err := New(cfg, fake.clients()).Inspect(t.Context(), deployedOutputs())
	require.NoError(t, err)
	findings := byResource(report)

	tests := []struct {
		resource string
		details  []string
	}{
		{"distribution", []string{"number of error responses is 1, want 2", "error page for 404 is , want /index.html"}},
		{"pipeline", []string{"stages are [Source Build Deploy], want [Source Build]"}},
		{"table", []string{"sort key is email, want password"}},
		{"function", []string{"timeout is 3, want 10", "environment variable CORS_URL is , want *", "environment variable TZ is UTC, want Asia/Tokyo"}},
		{"rest api", []string{"methods on /your-du are [POST], want [OPTIONS POST]"}},
	}
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			f := findings[tt.resource]
			assert.Equal(t, StatusDrifted, f.Status)
			for _, d := range tt.details {
				assert.Contains(t, f.Details, d)
			}
		})
	}
	assert.Equal(t, StatusOK, findings["repository"].Status)
}

func TestInspectCorsDrift(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	fake := newFakeAWS(cfg)
	cfg.AllowedOrigin = "https://d111111abcdef8.cloudfront.net"

	report, err := New(cfg, fake.clients()).Inspect(t.Context(), deployedOutputs())
	require.NoError(t, err)
	api := byResource(report)["rest api"]
	assert.Equal(t, StatusDrifted, api.Status)
	assert.Contains(t, api.Details, "OPTIONS response headers")
}

func TestInspectAccessDenied(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	fake := newFakeAWS(cfg)
	fake.errs["lambda"] = apiError("AccessDeniedException")

	report, err := New(cfg, fake.clients()).Inspect(t.Context(), deployedOutputs())
	require.NoError(t, err)
	function := byResource(report)["function"]
	assert.Equal(t, StatusError, function.Status)
	assert.Equal(t, "AccessDeniedException: AccessDeniedException", function.Details)
}

func TestInspectTransportError(t *testing.T) {
	cfg := types.DefaultConfig("dev")
	fake := newFakeAWS(cfg)
	fake.errs["codepipeline"] = errors.New("dial tcp: lookup codepipeline.us-west-2.amazonaws.com: no such host")

	_, err := New(cfg, fake.clients()).Inspect(t.Context(), deployedOutputs())
	assert.ErrorContains(t, err, `inspecting pipeline "yourPipeline-dev"`)
	assert.ErrorContains(t, err, "no such host")
}
