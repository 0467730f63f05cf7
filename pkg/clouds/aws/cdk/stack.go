package cdk

import (
	"fmt"
	"net/http"

	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudfront"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodebuild"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodecommit"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipelineactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

type StartupStackProps struct {
	awscdk.StackProps
	Config types.Config
}

// StartupStack keeps a handle on every construct it declares, so callers and
// tests can link to them without looking them up by ID.
type StartupStack struct {
	awscdk.Stack

	Bucket               awss3.Bucket
	OriginAccessIdentity awscloudfront.OriginAccessIdentity
	Distribution         awscloudfront.CloudFrontWebDistribution
	Project              awscodebuild.PipelineProject
	Repository           awscodecommit.Repository
	Pipeline             awscodepipeline.Pipeline
	Table                awsdynamodb.Table
	Function             awslambda.Function
	RestApi              awsapigateway.RestApi
	Resource             awsapigateway.Resource
	PostMethod           awsapigateway.Method
	OptionsMethod        awsapigateway.Method
}

var retentionDays = map[int]awslogs.RetentionDays{
	1:    awslogs.RetentionDays_ONE_DAY,
	3:    awslogs.RetentionDays_THREE_DAYS,
	5:    awslogs.RetentionDays_FIVE_DAYS,
	7:    awslogs.RetentionDays_ONE_WEEK,
	14:   awslogs.RetentionDays_TWO_WEEKS,
	30:   awslogs.RetentionDays_ONE_MONTH,
	60:   awslogs.RetentionDays_TWO_MONTHS,
	90:   awslogs.RetentionDays_THREE_MONTHS,
	120:  awslogs.RetentionDays_FOUR_MONTHS,
	150:  awslogs.RetentionDays_FIVE_MONTHS,
	180:  awslogs.RetentionDays_SIX_MONTHS,
	365:  awslogs.RetentionDays_ONE_YEAR,
	400:  awslogs.RetentionDays_THIRTEEN_MONTHS,
	545:  awslogs.RetentionDays_EIGHTEEN_MONTHS,
	731:  awslogs.RetentionDays_TWO_YEARS,
	1827: awslogs.RetentionDays_FIVE_YEARS,
	3653: awslogs.RetentionDays_TEN_YEARS,
}

func seconds(s float64) awscdk.Duration {
	return awscdk.Duration_Seconds(jsii.Number(s))
}

func NewStartupStack(scope constructs.Construct, id string, props *StartupStackProps) (*StartupStack, error) {
	if err := props.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := props.Config
	stack := &StartupStack{Stack: awscdk.NewStack(scope, &id, &props.StackProps)}
	awscdk.Tags_Of(stack.Stack).Add(jsii.String("CreatedBy"), jsii.String("startup-stack"), nil)
	awscdk.Tags_Of(stack.Stack).Add(jsii.String("Stage"), jsii.String(cfg.Stage), nil)

	// 1. site bucket
	stack.Bucket = awss3.NewBucket(stack.Stack, jsii.String("SiteBucket"), &awss3.BucketProps{
		BucketName:    jsii.String(cfg.BucketName),
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
	})

	// 2. origin access identity with read access to the objects
	stack.OriginAccessIdentity = awscloudfront.NewOriginAccessIdentity(stack.Stack, jsii.String("OriginAccessIdentity"), &awscloudfront.OriginAccessIdentityProps{
		Comment: jsii.String("Identity for " + cfg.BucketName),
	})
	stack.Bucket.AddToResourcePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect:  awsiam.Effect_ALLOW,
		Actions: jsii.Strings("s3:GetObject"),
		Principals: &[]awsiam.IPrincipal{
			awsiam.NewCanonicalUserPrincipal(stack.OriginAccessIdentity.CloudFrontOriginAccessIdentityS3CanonicalUserId()),
		},
		Resources: &[]*string{stack.Bucket.ArnForObjects(jsii.String("*"))},
	}))

	// 3. distribution; 403 and 404 fall back to the index document
	errorConfig := func(code float64) *awscloudfront.CfnDistribution_CustomErrorResponseProperty {
		return &awscloudfront.CfnDistribution_CustomErrorResponseProperty{
			ErrorCode:          jsii.Number(code),
			ResponseCode:       jsii.Number(http.StatusOK),
			ResponsePagePath:   jsii.String("/index.html"),
			ErrorCachingMinTtl: jsii.Number(0),
		}
	}
	stack.Distribution = awscloudfront.NewCloudFrontWebDistribution(stack.Stack, jsii.String("WebsiteDistribution"), &awscloudfront.CloudFrontWebDistributionProps{
		ViewerCertificate: awscloudfront.ViewerCertificate_FromCloudFrontDefaultCertificate(),
		PriceClass:        awscloudfront.PriceClass_PRICE_CLASS_ALL,
		DefaultRootObject: jsii.String("index.html"),
		OriginConfigs: &[]*awscloudfront.SourceConfiguration{
			{
				S3OriginSource: &awscloudfront.S3OriginConfig{
					S3BucketSource:       stack.Bucket,
					OriginAccessIdentity: stack.OriginAccessIdentity,
				},
				Behaviors: &[]*awscloudfront.Behavior{
					{
						IsDefaultBehavior: jsii.Bool(true),
						MinTtl:            seconds(0),
						DefaultTtl:        awscdk.Duration_Days(jsii.Number(1)),
						MaxTtl:            awscdk.Duration_Days(jsii.Number(365)),
					},
				},
			},
		},
		ErrorConfigurations: &[]*awscloudfront.CfnDistribution_CustomErrorResponseProperty{
			errorConfig(http.StatusForbidden),
			errorConfig(http.StatusNotFound),
		},
	})

	// 4. build project with full access to the site bucket
	stack.Project = awscodebuild.NewPipelineProject(stack.Stack, jsii.String("BuildProject"), &awscodebuild.PipelineProjectProps{
		ProjectName: jsii.String(cfg.ProjectName),
		Description: jsii.String("Builds the " + cfg.RepositoryName + " repository"),
		Environment: &awscodebuild.BuildEnvironment{
			EnvironmentVariables: &map[string]*awscodebuild.BuildEnvironmentVariable{
				"S3_BUCKET_ARN": {
					Type:  awscodebuild.BuildEnvironmentVariableType_PLAINTEXT,
					Value: stack.Bucket.BucketArn(),
				},
			},
		},
	})
	stack.Project.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   jsii.Strings("s3:*"),
		Resources: &[]*string{stack.Bucket.BucketArn(), stack.Bucket.ArnForObjects(jsii.String("*"))},
	}))

	// 5. source repository
	stack.Repository = awscodecommit.NewRepository(stack.Stack, jsii.String("Repository"), &awscodecommit.RepositoryProps{
		RepositoryName: jsii.String(cfg.RepositoryName),
		Description:    jsii.String("Source of the " + cfg.Stage + " site"),
	})

	// 6. pipeline: Source, then Build
	sourceOutput := awscodepipeline.NewArtifact(jsii.String(types.SourceArtifactName))
	buildOutput := awscodepipeline.NewArtifact(jsii.String(types.BuildArtifactName))
	stack.Pipeline = awscodepipeline.NewPipeline(stack.Stack, jsii.String("Pipeline"), &awscodepipeline.PipelineProps{
		PipelineName: jsii.String(cfg.PipelineName),
		Stages: &[]*awscodepipeline.StageProps{
			{
				StageName: jsii.String(types.SourceStageName),
				Actions: &[]awscodepipeline.IAction{
					awscodepipelineactions.NewCodeCommitSourceAction(&awscodepipelineactions.CodeCommitSourceActionProps{
						ActionName: jsii.String("CodeCommit"),
						Repository: stack.Repository,
						Branch:     jsii.String(cfg.Branch),
						Output:     sourceOutput,
					}),
				},
			},
			{
				StageName: jsii.String(types.BuildStageName),
				Actions: &[]awscodepipeline.IAction{
					awscodepipelineactions.NewCodeBuildAction(&awscodepipelineactions.CodeBuildActionProps{
						ActionName: jsii.String("CodeBuild"),
						Project:    stack.Project,
						Input:      sourceOutput,
						Outputs:    &[]awscodepipeline.Artifact{buildOutput},
					}),
				},
			},
		},
	})

	// 7. table
	stack.Table = awsdynamodb.NewTable(stack.Stack, jsii.String("Table"), &awsdynamodb.TableProps{
		TableName: jsii.String(cfg.TableName),
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String(cfg.PartitionKey),
			Type: awsdynamodb.AttributeType_NUMBER,
		},
		SortKey: &awsdynamodb.Attribute{
			Name: jsii.String(cfg.SortKey),
			Type: awsdynamodb.AttributeType_STRING,
		},
		ReadCapacity:  jsii.Number(1),
		WriteCapacity: jsii.Number(1),
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
	})

	// 8. function with full access to the table
	environment := map[string]*string{}
	for k, v := range cfg.FunctionEnvironment(*stack.Table.TableName()) {
		environment[k] = jsii.String(v)
	}
	functionProps := &awslambda.FunctionProps{
		FunctionName: jsii.String(cfg.FunctionName),
		Runtime:      awslambda.NewRuntime(jsii.String(cfg.FunctionRuntime), awslambda.RuntimeFamily_NODEJS, nil),
		Code:         awslambda.AssetCode_FromAsset(jsii.String(cfg.FunctionCodePath), nil),
		Handler:      jsii.String(cfg.FunctionHandler),
		Timeout:      seconds(float64(cfg.FunctionTimeoutSeconds())),
		Environment:  &environment,
	}
	if cfg.LogRetentionDays > 0 {
		days, ok := retentionDays[cfg.LogRetentionDays]
		if !ok {
			return nil, fmt.Errorf("unsupported log retention: %d days", cfg.LogRetentionDays)
		}
		functionProps.LogRetention = days
	}
	stack.Function = awslambda.NewFunction(stack.Stack, jsii.String("Function"), functionProps)
	stack.Table.GrantFullAccess(stack.Function)

	// 9. REST API with POST to the function and a mocked OPTIONS
	stack.RestApi = awsapigateway.NewRestApi(stack.Stack, jsii.String("RestApi"), &awsapigateway.RestApiProps{
		RestApiName:    jsii.String(cfg.RestApiName),
		CloudWatchRole: jsii.Bool(true),
		DeployOptions: &awsapigateway.StageOptions{
			StageName: jsii.String(types.DefaultApiStageName),
		},
	})
	stack.Resource = stack.RestApi.Root().AddResource(jsii.String(cfg.ResourcePath), nil)
	stack.PostMethod = stack.Resource.AddMethod(jsii.String(http.MethodPost), awsapigateway.NewLambdaIntegration(stack.Function, nil), nil)
	options, err := AddCorsOptions(stack.Resource, cfg.AllowedOrigin)
	if err != nil {
		return nil, err
	}
	stack.OptionsMethod = options

	addOutputs(stack)
	return stack, nil
}

func addOutputs(stack *StartupStack) {
	outputs := []struct {
		key   string
		value *string
	}{
		{types.OutputBucketName, stack.Bucket.BucketName()},
		{types.OutputDistributionID, stack.Distribution.DistributionId()},
		{types.OutputDistributionDomain, stack.Distribution.DistributionDomainName()},
		{types.OutputRepositoryCloneURL, stack.Repository.RepositoryCloneUrlHttp()},
		{types.OutputProjectName, stack.Project.ProjectName()},
		{types.OutputPipelineName, stack.Pipeline.PipelineName()},
		{types.OutputTableName, stack.Table.TableName()},
		{types.OutputFunctionName, stack.Function.FunctionName()},
		{types.OutputRestApiID, stack.RestApi.RestApiId()},
		{types.OutputApiURL, stack.RestApi.Url()},
	}
	for _, o := range outputs {
		awscdk.NewCfnOutput(stack.Stack, jsii.String(o.key), &awscdk.CfnOutputProps{Value: o.value})
	}
}
