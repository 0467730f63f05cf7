package pulumi

import (
	"net/http"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/apigateway"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudfront"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/codebuild"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/codecommit"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/codepipeline"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/dynamodb"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lambda"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	s3OriginID = "S3Origin"
	buildImage = "aws/codebuild/standard:7.0"
)

func assumeRolePolicy(service string) pulumi.StringInput {
	return pulumi.JSONMarshal(pulumi.Map{
		"Version": pulumi.String("2012-10-17"),
		"Statement": pulumi.Array{
			pulumi.Map{
				"Effect":    pulumi.String("Allow"),
				"Principal": pulumi.Map{"Service": pulumi.String(service)},
				"Action":    pulumi.String("sts:AssumeRole"),
			},
		},
	})
}

func allow(actions []string, resources ...pulumi.StringInput) pulumi.Map {
	acts := pulumi.StringArray{}
	for _, a := range actions {
		acts = append(acts, pulumi.String(a))
	}
	res := pulumi.StringArray{}
	res = append(res, resources...)
	return pulumi.Map{
		"Effect":   pulumi.String("Allow"),
		"Action":   acts,
		"Resource": res,
	}
}

func policyDocument(statements ...pulumi.Map) pulumi.StringOutput {
	stmts := pulumi.Array{}
	for _, s := range statements {
		stmts = append(stmts, s)
	}
	return pulumi.JSONMarshal(pulumi.Map{
		"Version":   pulumi.String("2012-10-17"),
		"Statement": stmts,
	})
}

// DeployFunc returns the Pulumi program declaring the stack in region. The
// program uses an explicit provider; default providers are disabled.
func DeployFunc(cfg types.Config, region string) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		prefix := cfg.StackName + "-"

		// 0. AWS provider (we disabled the default providers)
		provider, err := aws.NewProvider(ctx, "aws", &aws.ProviderArgs{
			Region: pulumi.String(region),
			DefaultTags: &aws.ProviderDefaultTagsArgs{
				Tags: pulumi.StringMap{
					"CreatedBy": pulumi.String("startup-stack"),
					"Stage":     pulumi.String(cfg.Stage),
				},
			},
		})
		if err != nil {
			return err
		}
		opts := []pulumi.ResourceOption{pulumi.Provider(provider)}
		ctx.Export("region", provider.Region)

		// 1. site bucket
		bucket, err := s3.NewBucket(ctx, prefix+"bucket", &s3.BucketArgs{
			Bucket: pulumi.String(cfg.BucketName),
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputBucketName, bucket.ID())

		// 2. origin access identity, allowed to read objects
		oai, err := cloudfront.NewOriginAccessIdentity(ctx, prefix+"oai", &cloudfront.OriginAccessIdentityArgs{
			Comment: pulumi.String("Identity for " + cfg.BucketName),
		}, opts...)
		if err != nil {
			return err
		}
		_, err = s3.NewBucketPolicy(ctx, prefix+"bucket-policy", &s3.BucketPolicyArgs{
			Bucket: bucket.ID(),
			Policy: pulumi.JSONMarshal(pulumi.Map{
				"Version": pulumi.String("2012-10-17"),
				"Statement": pulumi.Array{
					pulumi.Map{
						"Effect":    pulumi.String("Allow"),
						"Action":    pulumi.String("s3:GetObject"),
						"Principal": pulumi.Map{"CanonicalUser": oai.S3CanonicalUserId},
						"Resource":  pulumi.Sprintf("%s/*", bucket.Arn),
					},
				},
			}),
		}, opts...)
		if err != nil {
			return err
		}

		// 3. distribution; 403 and 404 fall back to the index document
		errorResponses := cloudfront.DistributionCustomErrorResponseArray{}
		for _, code := range []int{http.StatusForbidden, http.StatusNotFound} {
			errorResponses = append(errorResponses, &cloudfront.DistributionCustomErrorResponseArgs{
				ErrorCode:          pulumi.Int(code),
				ResponseCode:       pulumi.Int(http.StatusOK),
				ResponsePagePath:   pulumi.String("/index.html"),
				ErrorCachingMinTtl: pulumi.Int(0),
			})
		}
		distribution, err := cloudfront.NewDistribution(ctx, prefix+"distribution", &cloudfront.DistributionArgs{
			Enabled:           pulumi.Bool(true),
			DefaultRootObject: pulumi.String("index.html"),
			PriceClass:        pulumi.String("PriceClass_All"),
			Origins: cloudfront.DistributionOriginArray{
				&cloudfront.DistributionOriginArgs{
					OriginId:   pulumi.String(s3OriginID),
					DomainName: bucket.BucketRegionalDomainName,
					S3OriginConfig: &cloudfront.DistributionOriginS3OriginConfigArgs{
						OriginAccessIdentity: oai.CloudfrontAccessIdentityPath,
					},
				},
			},
			DefaultCacheBehavior: &cloudfront.DistributionDefaultCacheBehaviorArgs{
				TargetOriginId:       pulumi.String(s3OriginID),
				ViewerProtocolPolicy: pulumi.String("redirect-to-https"),
				AllowedMethods:       pulumi.StringArray{pulumi.String(http.MethodGet), pulumi.String(http.MethodHead)},
				CachedMethods:        pulumi.StringArray{pulumi.String(http.MethodGet), pulumi.String(http.MethodHead)},
				MinTtl:               pulumi.Int(0),
				DefaultTtl:           pulumi.Int(86400),
				MaxTtl:               pulumi.Int(31536000),
				ForwardedValues: &cloudfront.DistributionDefaultCacheBehaviorForwardedValuesArgs{
					QueryString: pulumi.Bool(false),
					Cookies: &cloudfront.DistributionDefaultCacheBehaviorForwardedValuesCookiesArgs{
						Forward: pulumi.String("none"),
					},
				},
			},
			CustomErrorResponses: errorResponses,
			Restrictions: &cloudfront.DistributionRestrictionsArgs{
				GeoRestriction: &cloudfront.DistributionRestrictionsGeoRestrictionArgs{
					RestrictionType: pulumi.String("none"),
				},
			},
			ViewerCertificate: &cloudfront.DistributionViewerCertificateArgs{
				CloudfrontDefaultCertificate: pulumi.Bool(true),
			},
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputDistributionID, distribution.ID())
		ctx.Export(types.OutputDistributionDomain, distribution.DomainName)

		// 4. pipeline artifact store
		artifacts, err := s3.NewBucket(ctx, prefix+"artifacts", &s3.BucketArgs{
			ForceDestroy: pulumi.Bool(true),
		}, opts...)
		if err != nil {
			return err
		}
		artifactsAccess := allow(
			[]string{"s3:GetObject*", "s3:GetBucket*", "s3:List*", "s3:PutObject", "s3:Abort*"},
			artifacts.Arn, pulumi.Sprintf("%s/*", artifacts.Arn),
		)

		// 5. build project, with full access to the site bucket
		buildRole, err := iam.NewRole(ctx, prefix+"build-role", &iam.RoleArgs{
			AssumeRolePolicy: assumeRolePolicy("codebuild.amazonaws.com"),
		}, opts...)
		if err != nil {
			return err
		}
		_, err = iam.NewRolePolicy(ctx, prefix+"build-policy", &iam.RolePolicyArgs{
			Role: buildRole.ID(),
			Policy: policyDocument(
				allow([]string{"s3:*"}, bucket.Arn, pulumi.Sprintf("%s/*", bucket.Arn)),
				allow([]string{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"}, pulumi.String("*")),
				artifactsAccess,
			),
		}, opts...)
		if err != nil {
			return err
		}
		project, err := codebuild.NewProject(ctx, prefix+"project", &codebuild.ProjectArgs{
			Name:        pulumi.String(cfg.ProjectName),
			Description: pulumi.String("Builds the " + cfg.RepositoryName + " repository"),
			ServiceRole: buildRole.Arn,
			Source: &codebuild.ProjectSourceArgs{
				Type: pulumi.String("CODEPIPELINE"),
			},
			Artifacts: &codebuild.ProjectArtifactsArgs{
				Type: pulumi.String("CODEPIPELINE"),
			},
			Environment: &codebuild.ProjectEnvironmentArgs{
				ComputeType: pulumi.String("BUILD_GENERAL1_SMALL"),
				Image:       pulumi.String(buildImage),
				Type:        pulumi.String("LINUX_CONTAINER"),
				EnvironmentVariables: codebuild.ProjectEnvironmentEnvironmentVariableArray{
					&codebuild.ProjectEnvironmentEnvironmentVariableArgs{
						Name:  pulumi.String("S3_BUCKET_ARN"),
						Type:  pulumi.String("PLAINTEXT"),
						Value: bucket.Arn,
					},
				},
			},
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputProjectName, project.Name)

		// 6. source repository
		repo, err := codecommit.NewRepository(ctx, prefix+"repository", &codecommit.RepositoryArgs{
			RepositoryName: pulumi.String(cfg.RepositoryName),
			Description:    pulumi.String("Source of the " + cfg.Stage + " site"),
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputRepositoryCloneURL, repo.CloneUrlHttp)

		// 7. two-stage pipeline: Source, then Build
		pipelineRole, err := iam.NewRole(ctx, prefix+"pipeline-role", &iam.RoleArgs{
			AssumeRolePolicy: assumeRolePolicy("codepipeline.amazonaws.com"),
		}, opts...)
		if err != nil {
			return err
		}
		_, err = iam.NewRolePolicy(ctx, prefix+"pipeline-policy", &iam.RolePolicyArgs{
			Role: pipelineRole.ID(),
			Policy: policyDocument(
				artifactsAccess,
				allow([]string{"codecommit:GetBranch", "codecommit:GetCommit", "codecommit:UploadArchive", "codecommit:GetUploadArchiveStatus", "codecommit:CancelUploadArchive"}, repo.Arn),
				allow([]string{"codebuild:BatchGetBuilds", "codebuild:StartBuild", "codebuild:StopBuild"}, project.Arn),
			),
		}, opts...)
		if err != nil {
			return err
		}
		pipeline, err := codepipeline.NewPipeline(ctx, prefix+"pipeline", &codepipeline.PipelineArgs{
			Name:    pulumi.String(cfg.PipelineName),
			RoleArn: pipelineRole.Arn,
			ArtifactStores: codepipeline.PipelineArtifactStoreArray{
				&codepipeline.PipelineArtifactStoreArgs{
					Type:     pulumi.String("S3"),
					Location: artifacts.Bucket,
				},
			},
			Stages: codepipeline.PipelineStageArray{
				&codepipeline.PipelineStageArgs{
					Name: pulumi.String(types.SourceStageName),
					Actions: codepipeline.PipelineStageActionArray{
						&codepipeline.PipelineStageActionArgs{
							Name:            pulumi.String("CodeCommit"),
							Category:        pulumi.String("Source"),
							Owner:           pulumi.String("AWS"),
							Provider:        pulumi.String("CodeCommit"),
							Version:         pulumi.String("1"),
							OutputArtifacts: pulumi.StringArray{pulumi.String(types.SourceArtifactName)},
							Configuration: pulumi.StringMap{
								"RepositoryName":       repo.RepositoryName,
								"BranchName":           pulumi.String(cfg.Branch),
								"PollForSourceChanges": pulumi.String("false"),
							},
						},
					},
				},
				&codepipeline.PipelineStageArgs{
					Name: pulumi.String(types.BuildStageName),
					Actions: codepipeline.PipelineStageActionArray{
						&codepipeline.PipelineStageActionArgs{
							Name:            pulumi.String("CodeBuild"),
							Category:        pulumi.String("Build"),
							Owner:           pulumi.String("AWS"),
							Provider:        pulumi.String("CodeBuild"),
							Version:         pulumi.String("1"),
							InputArtifacts:  pulumi.StringArray{pulumi.String(types.SourceArtifactName)},
							OutputArtifacts: pulumi.StringArray{pulumi.String(types.BuildArtifactName)},
							Configuration: pulumi.StringMap{
								"ProjectName": project.Name,
							},
						},
					},
				},
			},
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputPipelineName, pipeline.Name)

		// 7b. start the pipeline when the branch changes
		triggerRole, err := iam.NewRole(ctx, prefix+"trigger-role", &iam.RoleArgs{
			AssumeRolePolicy: assumeRolePolicy("events.amazonaws.com"),
		}, opts...)
		if err != nil {
			return err
		}
		_, err = iam.NewRolePolicy(ctx, prefix+"trigger-policy", &iam.RolePolicyArgs{
			Role:   triggerRole.ID(),
			Policy: policyDocument(allow([]string{"codepipeline:StartPipelineExecution"}, pipeline.Arn)),
		}, opts...)
		if err != nil {
			return err
		}
		rule, err := cloudwatch.NewEventRule(ctx, prefix+"source-trigger", &cloudwatch.EventRuleArgs{
			EventPattern: pulumi.JSONMarshal(pulumi.Map{
				"source":      pulumi.StringArray{pulumi.String("aws.codecommit")},
				"resources":   pulumi.StringArray{repo.Arn},
				"detail-type": pulumi.StringArray{pulumi.String("CodeCommit Repository State Change")},
				"detail": pulumi.Map{
					"event":         pulumi.StringArray{pulumi.String("referenceCreated"), pulumi.String("referenceUpdated")},
					"referenceName": pulumi.StringArray{pulumi.String(cfg.Branch)},
				},
			}),
		}, opts...)
		if err != nil {
			return err
		}
		_, err = cloudwatch.NewEventTarget(ctx, prefix+"source-trigger-target", &cloudwatch.EventTargetArgs{
			Rule:    rule.Name,
			Arn:     pipeline.Arn,
			RoleArn: triggerRole.Arn,
		}, opts...)
		if err != nil {
			return err
		}

		// 8. table
		table, err := dynamodb.NewTable(ctx, prefix+"table", &dynamodb.TableArgs{
			Name:     pulumi.String(cfg.TableName),
			HashKey:  pulumi.String(cfg.PartitionKey),
			RangeKey: pulumi.String(cfg.SortKey),
			Attributes: dynamodb.TableAttributeArray{
				&dynamodb.TableAttributeArgs{Name: pulumi.String(cfg.PartitionKey), Type: pulumi.String("N")},
				&dynamodb.TableAttributeArgs{Name: pulumi.String(cfg.SortKey), Type: pulumi.String("S")},
			},
			BillingMode:   pulumi.String("PROVISIONED"),
			ReadCapacity:  pulumi.Int(1),
			WriteCapacity: pulumi.Int(1),
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputTableName, table.Name)

		// 9. function with full access to the table
		functionRole, err := iam.NewRole(ctx, prefix+"function-role", &iam.RoleArgs{
			AssumeRolePolicy:  assumeRolePolicy("lambda.amazonaws.com"),
			ManagedPolicyArns: pulumi.StringArray{iam.ManagedPolicyAWSLambdaBasicExecutionRole},
		}, opts...)
		if err != nil {
			return err
		}
		_, err = iam.NewRolePolicy(ctx, prefix+"function-policy", &iam.RolePolicyArgs{
			Role:   functionRole.ID(),
			Policy: policyDocument(allow([]string{"dynamodb:*"}, table.Arn, pulumi.Sprintf("%s/index/*", table.Arn))),
		}, opts...)
		if err != nil {
			return err
		}
		var functionDeps []pulumi.Resource
		if cfg.LogRetentionDays > 0 {
			logGroup, err := cloudwatch.NewLogGroup(ctx, prefix+"function-logs", &cloudwatch.LogGroupArgs{
				Name:            pulumi.String("/aws/lambda/" + cfg.FunctionName),
				RetentionInDays: pulumi.Int(cfg.LogRetentionDays),
			}, opts...)
			if err != nil {
				return err
			}
			functionDeps = append(functionDeps, logGroup)
		}
		variables := pulumi.StringMap{}
		for k, v := range cfg.FunctionEnvironment("") {
			variables[k] = pulumi.String(v)
		}
		variables["TABLE_NAME"] = table.Name
		function, err := lambda.NewFunction(ctx, prefix+"function", &lambda.FunctionArgs{
			Name:    pulumi.String(cfg.FunctionName),
			Role:    functionRole.Arn,
			Runtime: pulumi.String(cfg.FunctionRuntime),
			Handler: pulumi.String(cfg.FunctionHandler),
			Code:    pulumi.NewFileArchive(cfg.FunctionCodePath),
			Timeout: pulumi.Int(cfg.FunctionTimeoutSeconds()),
			Environment: &lambda.FunctionEnvironmentArgs{
				Variables: variables,
			},
		}, append(opts, pulumi.DependsOn(functionDeps))...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputFunctionName, function.Name)

		// 10. REST API: POST goes to the function, OPTIONS is answered by API Gateway
		apiLogsRole, err := iam.NewRole(ctx, prefix+"api-logs-role", &iam.RoleArgs{
			AssumeRolePolicy:  assumeRolePolicy("apigateway.amazonaws.com"),
			ManagedPolicyArns: pulumi.StringArray{iam.ManagedPolicyAmazonAPIGatewayPushToCloudWatchLogs},
		}, opts...)
		if err != nil {
			return err
		}
		_, err = apigateway.NewAccount(ctx, prefix+"api-account", &apigateway.AccountArgs{
			CloudwatchRoleArn: apiLogsRole.Arn,
		}, opts...)
		if err != nil {
			return err
		}
		api, err := apigateway.NewRestApi(ctx, prefix+"api", &apigateway.RestApiArgs{
			Name: pulumi.String(cfg.RestApiName),
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputRestApiID, api.ID())
		resource, err := apigateway.NewResource(ctx, prefix+"api-resource", &apigateway.ResourceArgs{
			RestApi:  api.ID(),
			ParentId: api.RootResourceId,
			PathPart: pulumi.String(cfg.ResourcePath),
		}, opts...)
		if err != nil {
			return err
		}
		post, err := apigateway.NewMethod(ctx, prefix+"post", &apigateway.MethodArgs{
			RestApi:       api.ID(),
			ResourceId:    resource.ID(),
			HttpMethod:    pulumi.String(http.MethodPost),
			Authorization: pulumi.String("NONE"),
		}, opts...)
		if err != nil {
			return err
		}
		postIntegration, err := apigateway.NewIntegration(ctx, prefix+"post-integration", &apigateway.IntegrationArgs{
			RestApi:               api.ID(),
			ResourceId:            resource.ID(),
			HttpMethod:            post.HttpMethod,
			IntegrationHttpMethod: pulumi.String(http.MethodPost),
			Type:                  pulumi.String("AWS_PROXY"),
			Uri:                   function.InvokeArn,
		}, opts...)
		if err != nil {
			return err
		}
		_, err = lambda.NewPermission(ctx, prefix+"invoke-permission", &lambda.PermissionArgs{
			Action:    pulumi.String("lambda:InvokeFunction"),
			Function:  function.Name,
			Principal: pulumi.String("apigateway.amazonaws.com"),
			SourceArn: pulumi.Sprintf("%s/*/%s/%s", api.ExecutionArn, http.MethodPost, cfg.ResourcePath),
		}, opts...)
		if err != nil {
			return err
		}
		options, err := AddCorsOptions(ctx, prefix+"options", api, resource, cfg.AllowedOrigin, opts...)
		if err != nil {
			return err
		}
		// a deployment is a snapshot; replace it whenever the methods change
		redeployment, err := pkg.ContentHash(map[string]any{
			"resourcePath": cfg.ResourcePath,
			"function":     cfg.FunctionName,
			"methods":      []string{http.MethodPost, cors.Method},
			"cors":         cors.IntegrationResponseParameters(cfg.AllowedOrigin),
		})
		if err != nil {
			return err
		}
		deployment, err := apigateway.NewDeployment(ctx, prefix+"api-deployment", &apigateway.DeploymentArgs{
			RestApi:  api.ID(),
			Triggers: pulumi.StringMap{"redeployment": pulumi.String(redeployment)},
		}, append(opts, pulumi.DependsOn([]pulumi.Resource{postIntegration, options.Integration, options.IntegrationResponse}))...)
		if err != nil {
			return err
		}
		stage, err := apigateway.NewStage(ctx, prefix+"api-stage", &apigateway.StageArgs{
			RestApi:    api.ID(),
			Deployment: deployment.ID(),
			StageName:  pulumi.String(types.DefaultApiStageName),
		}, opts...)
		if err != nil {
			return err
		}
		ctx.Export(types.OutputApiURL, pulumi.Sprintf("%s/", stage.InvokeUrl))
		return nil
	}
}
