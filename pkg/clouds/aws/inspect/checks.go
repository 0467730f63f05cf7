package inspect

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func (i *Inspector) checkBucket(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "bucket", Name: nameOf(outputs, types.OutputBucketName, i.config.BucketName)}
	_, err := i.clients.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &f.Name})
	return conclude(f, err, nil)
}

func (i *Inspector) checkDistribution(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "distribution", Name: outputs[types.OutputDistributionID]}
	if f.Name == "" {
		return unknown(f, types.OutputDistributionID)
	}
	out, err := i.clients.CloudFront.GetDistribution(ctx, &cloudfront.GetDistributionInput{Id: &f.Name})
	if err != nil {
		return conclude(f, err, nil)
	}

	var drift []string
	if out.Distribution == nil || out.Distribution.DistributionConfig == nil {
		return conclude(f, nil, []string{"distribution has no configuration"})
	}
	dc := out.Distribution.DistributionConfig
	expect(&drift, "enabled", aws.ToBool(dc.Enabled), true)
	expect(&drift, "price class", string(dc.PriceClass), "PriceClass_All")
	pages := map[int32]string{}
	if dc.CustomErrorResponses != nil {
		for _, r := range dc.CustomErrorResponses.Items {
			pages[aws.ToInt32(r.ErrorCode)] = aws.ToString(r.ResponsePagePath)
		}
	}
	expect(&drift, "number of error responses", len(pages), 2)
	for _, code := range []int32{http.StatusForbidden, http.StatusNotFound} {
		expect(&drift, fmt.Sprintf("error page for %d", code), pages[code], "/index.html")
	}
	return conclude(f, nil, drift)
}

func (i *Inspector) checkRepository(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "repository", Name: i.config.RepositoryName}
	out, err := i.clients.CodeCommit.GetRepository(ctx, &codecommit.GetRepositoryInput{RepositoryName: &f.Name})
	if err != nil {
		return conclude(f, err, nil)
	}

	var drift []string
	if cloneURL := outputs[types.OutputRepositoryCloneURL]; cloneURL != "" && out.RepositoryMetadata != nil {
		expect(&drift, "clone URL", aws.ToString(out.RepositoryMetadata.CloneUrlHttp), cloneURL)
	}
	return conclude(f, nil, drift)
}

func (i *Inspector) checkProject(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "build project", Name: nameOf(outputs, types.OutputProjectName, i.config.ProjectName)}
	out, err := i.clients.CodeBuild.BatchGetProjects(ctx, &codebuild.BatchGetProjectsInput{Names: []string{f.Name}})
	if err != nil {
		return conclude(f, err, nil)
	}
	if len(out.Projects) == 0 {
		f.Status = StatusMissing
		return f, nil
	}

	var drift []string
	var bucketArn string
	if env := out.Projects[0].Environment; env != nil {
		for _, v := range env.EnvironmentVariables {
			if aws.ToString(v.Name) == "S3_BUCKET_ARN" {
				bucketArn = aws.ToString(v.Value)
			}
		}
	}
	bucket := nameOf(outputs, types.OutputBucketName, i.config.BucketName)
	if !strings.HasSuffix(bucketArn, ":::"+bucket) {
		drift = append(drift, fmt.Sprintf("S3_BUCKET_ARN is %q, want the ARN of bucket %q", bucketArn, bucket))
	}
	return conclude(f, nil, drift)
}

func (i *Inspector) checkPipeline(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "pipeline", Name: nameOf(outputs, types.OutputPipelineName, i.config.PipelineName)}
	out, err := i.clients.CodePipeline.GetPipeline(ctx, &codepipeline.GetPipelineInput{Name: &f.Name})
	if err != nil {
		return conclude(f, err, nil)
	}

	var stages []string
	if out.Pipeline != nil {
		for _, s := range out.Pipeline.Stages {
			stages = append(stages, aws.ToString(s.Name))
		}
	}
	want := []string{types.SourceStageName, types.BuildStageName}
	var drift []string
	if !slices.Equal(stages, want) {
		drift = append(drift, fmt.Sprintf("stages are %v, want %v", stages, want))
	}
	return conclude(f, nil, drift)
}

func (i *Inspector) checkTable(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "table", Name: nameOf(outputs, types.OutputTableName, i.config.TableName)}
	out, err := i.clients.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &f.Name})
	if err != nil {
		return conclude(f, err, nil)
	}
	if out.Table == nil {
		return conclude(f, nil, []string{"table has no description"})
	}

	var drift []string
	keys := map[ddbTypes.KeyType]string{}
	for _, k := range out.Table.KeySchema {
		keys[k.KeyType] = aws.ToString(k.AttributeName)
	}
	expect(&drift, "partition key", keys[ddbTypes.KeyTypeHash], i.config.PartitionKey)
	expect(&drift, "sort key", keys[ddbTypes.KeyTypeRange], i.config.SortKey)
	var read, write int64
	if pt := out.Table.ProvisionedThroughput; pt != nil {
		read, write = aws.ToInt64(pt.ReadCapacityUnits), aws.ToInt64(pt.WriteCapacityUnits)
	}
	expect(&drift, "read capacity", read, 1)
	expect(&drift, "write capacity", write, 1)
	return conclude(f, nil, drift)
}

func (i *Inspector) checkFunction(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "function", Name: nameOf(outputs, types.OutputFunctionName, i.config.FunctionName)}
	out, err := i.clients.Lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: &f.Name})
	if err != nil {
		return conclude(f, err, nil)
	}

	var drift []string
	expect(&drift, "runtime", string(out.Runtime), i.config.FunctionRuntime)
	expect(&drift, "timeout", aws.ToInt32(out.Timeout), int32(i.config.FunctionTimeoutSeconds()))
	var variables map[string]string
	if out.Environment != nil {
		variables = out.Environment.Variables
	}
	want := i.config.FunctionEnvironment(nameOf(outputs, types.OutputTableName, i.config.TableName))
	for _, k := range slices.Sorted(maps.Keys(want)) {
		expect(&drift, "environment variable "+k, variables[k], want[k])
	}
	return conclude(f, nil, drift)
}

func (i *Inspector) checkRestApi(ctx context.Context, outputs types.Outputs) (Finding, error) {
	f := Finding{Resource: "rest api", Name: outputs[types.OutputRestApiID]}
	if f.Name == "" {
		return unknown(f, types.OutputRestApiID)
	}

	path := "/" + i.config.ResourcePath
	var resourceID string
	var methods []string
	paginator := apigateway.NewGetResourcesPaginator(i.clients.ApiGateway, &apigateway.GetResourcesInput{
		RestApiId: &f.Name,
		Embed:     []string{"methods"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return conclude(f, err, nil)
		}
		for _, r := range page.Items {
			if aws.ToString(r.Path) == path {
				resourceID = aws.ToString(r.Id)
				methods = slices.Sorted(maps.Keys(r.ResourceMethods))
			}
		}
	}
	if resourceID == "" {
		return conclude(f, nil, []string{fmt.Sprintf("resource %s not found", path)})
	}

	var drift []string
	want := []string{cors.Method, http.MethodPost}
	if !slices.Equal(methods, want) {
		drift = append(drift, fmt.Sprintf("methods on %s are %v, want %v", path, methods, want))
	}
	if !slices.Contains(methods, cors.Method) {
		return conclude(f, nil, drift)
	}

	out, err := i.clients.ApiGateway.GetMethod(ctx, &apigateway.GetMethodInput{
		RestApiId:  &f.Name,
		ResourceId: &resourceID,
		HttpMethod: aws.String(cors.Method),
	})
	if err != nil {
		return conclude(f, err, nil)
	}
	if out.MethodIntegration == nil {
		return conclude(f, nil, append(drift, "OPTIONS has no integration"))
	}
	expect(&drift, "OPTIONS integration type", string(out.MethodIntegration.Type), cors.IntegrationMock)
	response := out.MethodIntegration.IntegrationResponses[cors.StatusCode]
	if wantParams := cors.IntegrationResponseParameters(i.config.AllowedOrigin); !maps.Equal(response.ResponseParameters, wantParams) {
		drift = append(drift, fmt.Sprintf("OPTIONS response headers are %v, want %v", response.ResponseParameters, wantParams))
	}
	return conclude(f, nil, drift)
}
