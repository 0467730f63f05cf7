package inspect

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type CloudFrontAPI interface {
	GetDistribution(ctx context.Context, params *cloudfront.GetDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error)
}

type CodeCommitAPI interface {
	GetRepository(ctx context.Context, params *codecommit.GetRepositoryInput, optFns ...func(*codecommit.Options)) (*codecommit.GetRepositoryOutput, error)
}

type CodeBuildAPI interface {
	BatchGetProjects(ctx context.Context, params *codebuild.BatchGetProjectsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetProjectsOutput, error)
}

type CodePipelineAPI interface {
	GetPipeline(ctx context.Context, params *codepipeline.GetPipelineInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineOutput, error)
}

type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type LambdaAPI interface {
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

type ApiGatewayAPI interface {
	apigateway.GetResourcesAPIClient
	GetMethod(ctx context.Context, params *apigateway.GetMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error)
}

// Clients are the read-only AWS APIs used to inspect a deployed stack.
type Clients struct {
	S3           S3API
	CloudFront   CloudFrontAPI
	CodeCommit   CodeCommitAPI
	CodeBuild    CodeBuildAPI
	CodePipeline CodePipelineAPI
	DynamoDB     DynamoDBAPI
	Lambda       LambdaAPI
	ApiGateway   ApiGatewayAPI
}

func NewClients(cfg aws.Config) Clients {
	return Clients{
		S3:           s3.NewFromConfig(cfg),
		CloudFront:   cloudfront.NewFromConfig(cfg),
		CodeCommit:   codecommit.NewFromConfig(cfg),
		CodeBuild:    codebuild.NewFromConfig(cfg),
		CodePipeline: codepipeline.NewFromConfig(cfg),
		DynamoDB:     dynamodb.NewFromConfig(cfg),
		Lambda:       lambda.NewFromConfig(cfg),
		ApiGateway:   apigateway.NewFromConfig(cfg),
	}
}
