package cfn

import (
	"net/http"
	"strconv"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/apigateway"
	"github.com/awslabs/goformation/v7/cloudformation/cloudfront"
	"github.com/awslabs/goformation/v7/cloudformation/codebuild"
	"github.com/awslabs/goformation/v7/cloudformation/codecommit"
	"github.com/awslabs/goformation/v7/cloudformation/codepipeline"
	"github.com/awslabs/goformation/v7/cloudformation/dynamodb"
	"github.com/awslabs/goformation/v7/cloudformation/events"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/lambda"
	"github.com/awslabs/goformation/v7/cloudformation/logs"
	"github.com/awslabs/goformation/v7/cloudformation/policies"
	"github.com/awslabs/goformation/v7/cloudformation/s3"
	"github.com/awslabs/goformation/v7/cloudformation/tags"
)

const (
	CreatedByTagKey   = "CreatedBy"
	CreatedByTagValue = "startup-stack"

	indexDocument = "/index.html"
	buildImage    = "aws/codebuild/standard:7.0"

	oneDay    = 24 * 60 * 60
	oneYear   = 365 * oneDay
	fallback  = http.StatusOK
	policyVer = "2012-10-17"
)

// inlineFunctionCode stands in for the function package, which CloudFormation
// cannot upload by itself. Deploy the real code with the CDK or Pulumi engine.
const inlineFunctionCode = `exports.handler = async () => ({
  statusCode: 200,
  headers: { "Access-Control-Allow-Origin": process.env.CORS_URL },
  body: JSON.stringify({ table: process.env.TABLE_NAME }),
});
`

func assumeRolePolicy(service string) map[string]any {
	return map[string]any{
		"Version": policyVer,
		"Statement": []map[string]any{
			{
				"Effect": "Allow",
				"Principal": map[string]any{
					"Service": []string{service},
				},
				"Action": []string{"sts:AssumeRole"},
			},
		},
	}
}

func allow(actions []string, resources ...any) map[string]any {
	return map[string]any{
		"Effect":   "Allow",
		"Action":   actions,
		"Resource": resources,
	}
}

func policyDocument(statements ...map[string]any) map[string]any {
	return map[string]any{
		"Version":   policyVer,
		"Statement": statements,
	}
}

// CreateTemplate declares the whole stack for the given configuration. The
// result only depends on cfg, so calling it twice yields identical templates.
func CreateTemplate(cfg types.Config) (*cloudformation.Template, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaultTags := []tags.Tag{
		{
			Key:   CreatedByTagKey,
			Value: CreatedByTagValue,
		},
		{
			Key:   "Stage",
			Value: cfg.Stage,
		},
	}

	template := cloudformation.NewTemplate()
	template.Description = "Startup stack (" + cfg.Stage + "): static site, CI pipeline, table, function and REST API."

	// 1. site bucket, deleted with the stack
	template.Resources[ResBucket] = &s3.Bucket{
		Tags:                            defaultTags,
		BucketName:                      ptr.String(cfg.BucketName),
		AWSCloudFormationDeletionPolicy: policies.DeletionPolicy("Delete"),
	}

	// 2. origin access identity, allowed to read objects and nothing else
	template.Resources[ResOriginAccessIdentity] = &cloudfront.CloudFrontOriginAccessIdentity{
		CloudFrontOriginAccessIdentityConfig: &cloudfront.CloudFrontOriginAccessIdentity_CloudFrontOriginAccessIdentityConfig{
			Comment: "Identity for " + cfg.BucketName,
		},
	}
	template.Resources[ResBucketPolicy] = &s3.BucketPolicy{
		Bucket: cloudformation.Ref(ResBucket),
		PolicyDocument: policyDocument(map[string]any{
			"Effect": "Allow",
			"Action": []string{"s3:GetObject"},
			"Principal": map[string]any{
				"CanonicalUser": cloudformation.GetAtt(ResOriginAccessIdentity, "S3CanonicalUserId"),
			},
			"Resource": []string{cloudformation.Sub("${" + ResBucket + ".Arn}/*")},
		}),
	}

	// 3. CDN in front of the bucket; unknown paths fall back to the index document
	const originID = "S3Origin"
	template.Resources[ResDistribution] = &cloudfront.Distribution{
		DistributionConfig: &cloudfront.Distribution_DistributionConfig{
			Enabled:           true,
			DefaultRootObject: ptr.String("index.html"),
			HttpVersion:       ptr.String("http2"),
			IPV6Enabled:       ptr.Bool(true),
			PriceClass:        ptr.String("PriceClass_All"),
			Origins: []cloudfront.Distribution_Origin{
				{
					Id:         originID,
					DomainName: cloudformation.GetAtt(ResBucket, "RegionalDomainName"),
					S3OriginConfig: &cloudfront.Distribution_S3OriginConfig{
						OriginAccessIdentity: ptr.String(cloudformation.Sub("origin-access-identity/cloudfront/${" + ResOriginAccessIdentity + "}")),
					},
				},
			},
			DefaultCacheBehavior: &cloudfront.Distribution_DefaultCacheBehavior{
				TargetOriginId:       originID,
				ViewerProtocolPolicy: "redirect-to-https",
				AllowedMethods:       []string{http.MethodGet, http.MethodHead},
				CachedMethods:        []string{http.MethodGet, http.MethodHead},
				Compress:             ptr.Bool(true),
				MinTTL:               ptr.Float64(0),
				DefaultTTL:           ptr.Float64(oneDay),
				MaxTTL:               ptr.Float64(oneYear),
				ForwardedValues: &cloudfront.Distribution_ForwardedValues{
					QueryString: false,
					Cookies: &cloudfront.Distribution_Cookies{
						Forward: "none",
					},
				},
			},
			CustomErrorResponses: []cloudfront.Distribution_CustomErrorResponse{
				{
					ErrorCode:          http.StatusForbidden,
					ResponseCode:       ptr.Int(fallback),
					ResponsePagePath:   ptr.String(indexDocument),
					ErrorCachingMinTTL: ptr.Float64(0),
				},
				{
					ErrorCode:          http.StatusNotFound,
					ResponseCode:       ptr.Int(fallback),
					ResponsePagePath:   ptr.String(indexDocument),
					ErrorCachingMinTTL: ptr.Float64(0),
				},
			},
			ViewerCertificate: &cloudfront.Distribution_ViewerCertificate{
				CloudFrontDefaultCertificate: ptr.Bool(true),
			},
		},
	}

	// 4. pipeline artifact store
	template.Resources[ResArtifactsBucket] = &s3.Bucket{
		Tags:                            defaultTags,
		AWSCloudFormationDeletionPolicy: policies.DeletionPolicy("RetainExceptOnCreate"),
		PublicAccessBlockConfiguration: &s3.Bucket_PublicAccessBlockConfiguration{
			BlockPublicAcls:       ptr.Bool(true),
			BlockPublicPolicy:     ptr.Bool(true),
			IgnorePublicAcls:      ptr.Bool(true),
			RestrictPublicBuckets: ptr.Bool(true),
		},
	}
	artifactsAccess := allow(
		[]string{"s3:GetObject*", "s3:GetBucket*", "s3:List*", "s3:PutObject", "s3:Abort*"},
		cloudformation.GetAtt(ResArtifactsBucket, "Arn"),
		cloudformation.Sub("${"+ResArtifactsBucket+".Arn}/*"),
	)

	// 5. build project, with full access to the site bucket
	template.Resources[ResBuildProjectRole] = &iam.Role{
		Tags:                     defaultTags,
		AssumeRolePolicyDocument: assumeRolePolicy("codebuild.amazonaws.com"),
		Policies: []iam.Role_Policy{
			{
				PolicyName: "BuildProjectAccess",
				PolicyDocument: policyDocument(
					allow(
						[]string{"s3:*"},
						cloudformation.GetAtt(ResBucket, "Arn"),
						cloudformation.Sub("${"+ResBucket+".Arn}/*"),
					),
					allow(
						[]string{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"},
						cloudformation.Sub("arn:${AWS::Partition}:logs:${AWS::Region}:${AWS::AccountId}:log-group:/aws/codebuild/"+cfg.ProjectName+"*"),
					),
					artifactsAccess,
				),
			},
		},
	}
	template.Resources[ResBuildProject] = &codebuild.Project{
		Tags:        defaultTags,
		Name:        ptr.String(cfg.ProjectName),
		Description: ptr.String("Builds the " + cfg.RepositoryName + " repository"),
		ServiceRole: cloudformation.GetAtt(ResBuildProjectRole, "Arn"),
		Source: &codebuild.Project_Source{
			Type: "CODEPIPELINE",
		},
		Artifacts: &codebuild.Project_Artifacts{
			Type: "CODEPIPELINE",
		},
		Environment: &codebuild.Project_Environment{
			ComputeType: "BUILD_GENERAL1_SMALL",
			Image:       buildImage,
			Type:        "LINUX_CONTAINER",
			EnvironmentVariables: []codebuild.Project_EnvironmentVariable{
				{
					Name:  "S3_BUCKET_ARN",
					Type:  ptr.String("PLAINTEXT"),
					Value: cloudformation.GetAtt(ResBucket, "Arn"),
				},
			},
		},
	}

	// 6. source repository
	template.Resources[ResRepository] = &codecommit.Repository{
		Tags:                  defaultTags,
		RepositoryName:        cfg.RepositoryName,
		RepositoryDescription: ptr.String("Source of the " + cfg.Stage + " site"),
	}

	// 7. two-stage pipeline: Source, then Build
	template.Resources[ResPipelineRole] = &iam.Role{
		Tags:                     defaultTags,
		AssumeRolePolicyDocument: assumeRolePolicy("codepipeline.amazonaws.com"),
		Policies: []iam.Role_Policy{
			{
				PolicyName: "PipelineAccess",
				PolicyDocument: policyDocument(
					artifactsAccess,
					allow(
						[]string{"codecommit:GetBranch", "codecommit:GetCommit", "codecommit:UploadArchive", "codecommit:GetUploadArchiveStatus", "codecommit:CancelUploadArchive"},
						cloudformation.GetAtt(ResRepository, "Arn"),
					),
					allow(
						[]string{"codebuild:BatchGetBuilds", "codebuild:StartBuild", "codebuild:StopBuild"},
						cloudformation.GetAtt(ResBuildProject, "Arn"),
					),
				),
			},
		},
	}
	template.Resources[ResPipeline] = &codepipeline.Pipeline{
		Name:    ptr.String(cfg.PipelineName),
		RoleArn: cloudformation.GetAtt(ResPipelineRole, "Arn"),
		ArtifactStore: &codepipeline.Pipeline_ArtifactStore{
			Type:     "S3",
			Location: cloudformation.Ref(ResArtifactsBucket),
		},
		Stages: []codepipeline.Pipeline_StageDeclaration{
			{
				Name: types.SourceStageName,
				Actions: []codepipeline.Pipeline_ActionDeclaration{
					{
						Name: "CodeCommit",
						ActionTypeId: &codepipeline.Pipeline_ActionTypeId{
							Category: "Source",
							Owner:    "AWS",
							Provider: "CodeCommit",
							Version:  "1",
						},
						Configuration: map[string]any{
							"RepositoryName":       cloudformation.GetAtt(ResRepository, "Name"),
							"BranchName":           cfg.Branch,
							"PollForSourceChanges": false,
						},
						OutputArtifacts: []codepipeline.Pipeline_OutputArtifact{
							{Name: types.SourceArtifactName},
						},
						RunOrder: ptr.Int(1),
					},
				},
			},
			{
				Name: types.BuildStageName,
				Actions: []codepipeline.Pipeline_ActionDeclaration{
					{
						Name: "CodeBuild",
						ActionTypeId: &codepipeline.Pipeline_ActionTypeId{
							Category: "Build",
							Owner:    "AWS",
							Provider: "CodeBuild",
							Version:  "1",
						},
						Configuration: map[string]any{
							"ProjectName": cloudformation.Ref(ResBuildProject),
						},
						InputArtifacts: []codepipeline.Pipeline_InputArtifact{
							{Name: types.SourceArtifactName},
						},
						// Nothing consumes this artifact yet; see Config.Warnings.
						OutputArtifacts: []codepipeline.Pipeline_OutputArtifact{
							{Name: types.BuildArtifactName},
						},
						RunOrder: ptr.Int(1),
					},
				},
			},
		},
	}

	// 7b. start the pipeline when the branch changes
	pipelineArn := cloudformation.Sub("arn:${AWS::Partition}:codepipeline:${AWS::Region}:${AWS::AccountId}:${" + ResPipeline + "}")
	template.Resources[ResSourceTriggerRole] = &iam.Role{
		Tags:                     defaultTags,
		AssumeRolePolicyDocument: assumeRolePolicy("events.amazonaws.com"),
		Policies: []iam.Role_Policy{
			{
				PolicyName:     "StartPipeline",
				PolicyDocument: policyDocument(allow([]string{"codepipeline:StartPipelineExecution"}, pipelineArn)),
			},
		},
	}
	template.Resources[ResSourceTriggerRule] = &events.Rule{
		EventPattern: map[string]any{
			"source":      []string{"aws.codecommit"},
			"resources":   []string{cloudformation.GetAtt(ResRepository, "Arn")},
			"detail-type": []string{"CodeCommit Repository State Change"},
			"detail": map[string]any{
				"event":         []string{"referenceCreated", "referenceUpdated"},
				"referenceName": []string{cfg.Branch},
			},
		},
		Targets: []events.Rule_Target{
			{
				Id:      "Pipeline",
				Arn:     pipelineArn,
				RoleArn: ptr.String(cloudformation.GetAtt(ResSourceTriggerRole, "Arn")),
			},
		},
	}

	// 8. table with a composite key and minimal provisioned throughput, deleted with the stack
	template.Resources[ResTable] = &dynamodb.Table{
		Tags:      defaultTags,
		TableName: ptr.String(cfg.TableName),
		AttributeDefinitions: []dynamodb.Table_AttributeDefinition{
			{AttributeName: cfg.PartitionKey, AttributeType: "N"},
			{AttributeName: cfg.SortKey, AttributeType: "S"},
		},
		KeySchema: []dynamodb.Table_KeySchema{
			{AttributeName: cfg.PartitionKey, KeyType: "HASH"},
			{AttributeName: cfg.SortKey, KeyType: "RANGE"},
		},
		BillingMode: ptr.String("PROVISIONED"),
		ProvisionedThroughput: &dynamodb.Table_ProvisionedThroughput{
			ReadCapacityUnits:  1,
			WriteCapacityUnits: 1,
		},
		AWSCloudFormationDeletionPolicy: policies.DeletionPolicy("Delete"),
	}

	// 9. function with full access to the table
	template.Resources[ResFunctionRole] = &iam.Role{
		Tags:                     defaultTags,
		AssumeRolePolicyDocument: assumeRolePolicy("lambda.amazonaws.com"),
		ManagedPolicyArns: []string{
			cloudformation.Sub("arn:${AWS::Partition}:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"),
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName:     "TableFullAccess",
				PolicyDocument: policyDocument(allow([]string{"dynamodb:*"}, cloudformation.GetAtt(ResTable, "Arn"))),
			},
		},
	}
	template.Resources[ResFunction] = &lambda.Function{
		Tags:         defaultTags,
		FunctionName: ptr.String(cfg.FunctionName),
		Role:         cloudformation.GetAtt(ResFunctionRole, "Arn"),
		Runtime:      ptr.String(cfg.FunctionRuntime),
		Handler:      ptr.String("index.handler"),
		Timeout:      ptr.Int(cfg.FunctionTimeoutSeconds()),
		Code: &lambda.Function_Code{
			ZipFile: ptr.String(inlineFunctionCode),
		},
		Environment: &lambda.Function_Environment{
			Variables: cfg.FunctionEnvironment(cloudformation.Ref(ResTable)),
		},
	}
	if cfg.LogRetentionDays > 0 {
		template.Resources[ResFunctionLogGroup] = &logs.LogGroup{
			Tags:            defaultTags,
			LogGroupName:    ptr.String("/aws/lambda/" + cfg.FunctionName),
			RetentionInDays: ptr.Int(cfg.LogRetentionDays),
		}
	}

	// 10. REST API: POST goes to the function, OPTIONS is answered by API Gateway
	template.Resources[ResApiGatewayCloudWatchRole] = &iam.Role{
		Tags:                     defaultTags,
		AssumeRolePolicyDocument: assumeRolePolicy("apigateway.amazonaws.com"),
		ManagedPolicyArns: []string{
			cloudformation.Sub("arn:${AWS::Partition}:iam::aws:policy/service-role/AmazonAPIGatewayPushToCloudWatchLogs"),
		},
	}
	template.Resources[ResApiGatewayAccount] = &apigateway.Account{
		CloudWatchRoleArn:          ptr.String(cloudformation.GetAtt(ResApiGatewayCloudWatchRole, "Arn")),
		AWSCloudFormationDependsOn: []string{ResRestApi},
	}
	template.Resources[ResRestApi] = &apigateway.RestApi{
		Name: ptr.String(cfg.RestApiName),
	}
	template.Resources[ResApiResource] = &apigateway.Resource{
		RestApiId: cloudformation.Ref(ResRestApi),
		ParentId:  cloudformation.GetAtt(ResRestApi, "RootResourceId"),
		PathPart:  cfg.ResourcePath,
	}
	template.Resources[ResPostMethod] = &apigateway.Method{
		RestApiId:         cloudformation.Ref(ResRestApi),
		ResourceId:        cloudformation.Ref(ResApiResource),
		HttpMethod:        http.MethodPost,
		AuthorizationType: ptr.String("NONE"),
		Integration: &apigateway.Method_Integration{
			Type:                  "AWS_PROXY",
			IntegrationHttpMethod: ptr.String(http.MethodPost),
			Uri:                   ptr.String(cloudformation.Sub("arn:${AWS::Partition}:apigateway:${AWS::Region}:lambda:path/2015-03-31/functions/${" + ResFunction + ".Arn}/invocations")),
		},
	}
	template.Resources[ResFunctionPermission] = &lambda.Permission{
		Action:       "lambda:InvokeFunction",
		FunctionName: cloudformation.GetAtt(ResFunction, "Arn"),
		Principal:    "apigateway.amazonaws.com",
		SourceArn:    ptr.String(cloudformation.Sub("arn:${AWS::Partition}:execute-api:${AWS::Region}:${AWS::AccountId}:${" + ResRestApi + "}/*/" + http.MethodPost + "/" + cfg.ResourcePath)),
	}
	if err := AddCorsOptions(template, ResOptionsMethod, cloudformation.Ref(ResRestApi), cloudformation.Ref(ResApiResource), cfg.AllowedOrigin); err != nil {
		return nil, err
	}
	// a deployment is a snapshot; a new logical ID makes the stage serve changed methods
	deploymentID, err := apiDeploymentID(template)
	if err != nil {
		return nil, err
	}
	template.Resources[deploymentID] = &apigateway.Deployment{
		RestApiId:                  cloudformation.Ref(ResRestApi),
		Description:                ptr.String("Template revision " + strconv.Itoa(TemplateRevision)),
		AWSCloudFormationDependsOn: []string{ResPostMethod, ResOptionsMethod},
	}
	template.Resources[ResApiStage] = &apigateway.Stage{
		RestApiId:    cloudformation.Ref(ResRestApi),
		DeploymentId: ptr.String(cloudformation.Ref(deploymentID)),
		StageName:    ptr.String(types.DefaultApiStageName),
	}

	addOutputs(template)
	return template, nil
}

// apiDeploymentID is ResApiDeployment suffixed with a hash of the methods the
// deployment snapshots.
func apiDeploymentID(template *cloudformation.Template) (string, error) {
	hash, err := pkg.ContentHash([]cloudformation.Resource{
		template.Resources[ResPostMethod],
		template.Resources[ResOptionsMethod],
	})
	if err != nil {
		return "", err
	}
	return ResApiDeployment + hash, nil
}

func addOutputs(template *cloudformation.Template) {
	outputs := []struct {
		key, description string
		value            string
	}{
		{types.OutputBucketName, "Name of the site bucket", cloudformation.Ref(ResBucket)},
		{types.OutputDistributionID, "ID of the CloudFront distribution", cloudformation.Ref(ResDistribution)},
		{types.OutputDistributionDomain, "Domain name of the CloudFront distribution", cloudformation.GetAtt(ResDistribution, "DomainName")},
		{types.OutputRepositoryCloneURL, "HTTPS clone URL of the source repository", cloudformation.GetAtt(ResRepository, "CloneUrlHttp")},
		{types.OutputProjectName, "Name of the CodeBuild project", cloudformation.Ref(ResBuildProject)},
		{types.OutputPipelineName, "Name of the pipeline", cloudformation.Ref(ResPipeline)},
		{types.OutputTableName, "Name of the DynamoDB table", cloudformation.Ref(ResTable)},
		{types.OutputFunctionName, "Name of the Lambda function", cloudformation.Ref(ResFunction)},
		{types.OutputRestApiID, "ID of the REST API", cloudformation.Ref(ResRestApi)},
		{types.OutputApiURL, "Invoke URL of the REST API", cloudformation.Sub("https://${" + ResRestApi + "}.execute-api.${AWS::Region}.${AWS::URLSuffix}/" + types.DefaultApiStageName + "/")},
		{OutputsTemplateVersion, "Revision of the template", strconv.Itoa(TemplateRevision)},
	}
	for _, o := range outputs {
		template.Outputs[o.key] = cloudformation.Output{
			Value:       o.value,
			Description: ptr.String(o.description),
		}
	}
}
