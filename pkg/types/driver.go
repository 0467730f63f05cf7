package types

import "context"

// Output keys shared by every engine, so that status checks work regardless of how the stack was deployed.
const (
	OutputBucketName         = "bucketName"
	OutputDistributionID     = "distributionId"
	OutputDistributionDomain = "distributionDomainName"
	OutputRepositoryCloneURL = "repositoryCloneUrlHttp"
	OutputProjectName        = "buildProjectName"
	OutputPipelineName       = "pipelineName"
	OutputTableName          = "tableName"
	OutputFunctionName       = "functionName"
	OutputRestApiID          = "restApiId"
	OutputApiURL             = "apiUrl"
)

type Outputs map[string]string

type Driver interface {
	SetUp(ctx context.Context) error
	TearDown(ctx context.Context) error
	Outputs(ctx context.Context) (Outputs, error)
}
