package cfn

// Logical IDs of the template resources. Together they form the registry the
// builders use to link resources instead of capturing each other's values.
const (
	ResBucket                   = "Bucket"
	ResOriginAccessIdentity     = "OriginAccessIdentity"
	ResBucketPolicy             = "BucketPolicy"
	ResDistribution             = "Distribution"
	ResBuildProject             = "BuildProject"
	ResBuildProjectRole         = "BuildProjectRole"
	ResRepository               = "Repository"
	ResArtifactsBucket          = "ArtifactsBucket"
	ResPipeline                 = "Pipeline"
	ResPipelineRole             = "PipelineRole"
	ResSourceTriggerRule        = "SourceTriggerRule"
	ResSourceTriggerRole        = "SourceTriggerRole"
	ResTable                    = "Table"
	ResFunction                 = "Function"
	ResFunctionRole             = "FunctionRole"
	ResFunctionLogGroup         = "FunctionLogGroup"
	ResFunctionPermission       = "FunctionInvokePermission"
	ResRestApi                  = "RestApi"
	ResApiResource              = "ApiResource"
	ResPostMethod               = "PostMethod"
	ResOptionsMethod            = "OptionsMethod"
	ResApiDeployment            = "ApiDeployment"
	ResApiStage                 = "ApiStage"
	ResApiGatewayAccount        = "ApiGatewayAccount"
	ResApiGatewayCloudWatchRole = "ApiGatewayCloudWatchRole"
)

const (
	OutputsTemplateVersion = "templateVersion"
	TemplateRevision       = 1 // bump this when the template changes!
)
