package types

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	DefaultStage        = "dev"
	DefaultBranch       = "master"
	WildcardOrigin      = "*"
	SourceArtifactName  = "SourceArtifact"
	BuildArtifactName   = "BuildArtifact"
	SourceStageName     = "Source"
	BuildStageName      = "Build"
	DefaultApiStageName = "prod"
)

// RetentionDays are the log retention periods CloudWatch Logs accepts. Zero
// leaves the function's log group unmanaged.
var RetentionDays = []int{1, 3, 5, 7, 14, 30, 60, 90, 120, 150, 180, 365, 400, 545, 731, 1827, 3653}

// Config names every resource of the stack. It is passed by value to the
// stack builders and never mutated by them, so stacks for several stages can
// be declared side by side.
type Config struct {
	StackName string `yaml:"stackName"`
	Stage     string `yaml:"stage"`

	BucketName     string `yaml:"bucketName"`
	ProjectName    string `yaml:"projectName"`
	RepositoryName string `yaml:"repositoryName"`
	Branch         string `yaml:"branch"`
	PipelineName   string `yaml:"pipelineName"`

	TableName    string `yaml:"tableName"`
	PartitionKey string `yaml:"partitionKey"`
	SortKey      string `yaml:"sortKey"`

	FunctionName     string        `yaml:"functionName"`
	FunctionRuntime  string        `yaml:"functionRuntime"`
	FunctionHandler  string        `yaml:"functionHandler"`
	FunctionCodePath string        `yaml:"functionCodePath"`
	FunctionTimeout  time.Duration `yaml:"functionTimeout"`
	TimeZone         string        `yaml:"timeZone"`
	LogRetentionDays int           `yaml:"logRetentionDays"`

	RestApiName   string `yaml:"restApiName"`
	ResourcePath  string `yaml:"resourcePath"`
	AllowedOrigin string `yaml:"allowedOrigin"`
}

// DefaultConfig returns the names the stack has always used, derived for the given stage.
func DefaultConfig(stage string) Config {
	if stage == "" {
		stage = DefaultStage
	}
	return Config{
		StackName: "StartupStack-" + stage,
		Stage:     stage,

		BucketName:     "your-web-" + stage + "-bucket",
		ProjectName:    "yourProject-" + stage,
		RepositoryName: "your-cdk-repository" + stage,
		Branch:         DefaultBranch,
		PipelineName:   "yourPipeline-" + stage,

		TableName:    "YOUR_TABLE",
		PartitionKey: "id",
		SortKey:      "password",

		FunctionName:     "your-function",
		FunctionRuntime:  "nodejs20.x",
		FunctionHandler:  "yourFunction.handler",
		FunctionCodePath: "src/lambda",
		FunctionTimeout:  10 * time.Second,
		TimeZone:         "Asia/Tokyo",
		LogRetentionDays: 60,

		RestApiName:   "your-first-api",
		ResourcePath:  "your-du",
		AllowedOrigin: WildcardOrigin,
	}
}

// Merge returns a copy of c with the fields present in the YAML document r applied on top.
func (c Config) Merge(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("invalid stack configuration: %w", err)
	}
	return c, nil
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"stackName", c.StackName},
		{"stage", c.Stage},
		{"bucketName", c.BucketName},
		{"projectName", c.ProjectName},
		{"repositoryName", c.RepositoryName},
		{"branch", c.Branch},
		{"pipelineName", c.PipelineName},
		{"tableName", c.TableName},
		{"partitionKey", c.PartitionKey},
		{"sortKey", c.SortKey},
		{"functionName", c.FunctionName},
		{"functionRuntime", c.FunctionRuntime},
		{"functionHandler", c.FunctionHandler},
		{"timeZone", c.TimeZone},
		{"restApiName", c.RestApiName},
		{"resourcePath", c.ResourcePath},
		{"allowedOrigin", c.AllowedOrigin},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", f.name))
		}
	}
	if c.PartitionKey != "" && c.PartitionKey == c.SortKey {
		errs = append(errs, fmt.Errorf("partitionKey and sortKey must differ: both are %q", c.SortKey))
	}
	if c.FunctionTimeout <= 0 || c.FunctionTimeout%time.Second != 0 {
		errs = append(errs, fmt.Errorf("functionTimeout must be a positive number of seconds, got %v", c.FunctionTimeout))
	}
	if c.LogRetentionDays != 0 && !slices.Contains(RetentionDays, c.LogRetentionDays) {
		errs = append(errs, fmt.Errorf("logRetentionDays must be 0 or one of %v, got %d", RetentionDays, c.LogRetentionDays))
	}
	return errors.Join(errs...)
}

// FunctionTimeoutSeconds is the function timeout as the whole number of seconds the providers expect.
func (c Config) FunctionTimeoutSeconds() int {
	return int(c.FunctionTimeout / time.Second)
}

// FunctionEnvironment is the environment of the deployed function; tableName is
// the engine-specific reference to the table name.
func (c Config) FunctionEnvironment(tableName string) map[string]string {
	return map[string]string{
		"TZ":         c.TimeZone,
		"TABLE_NAME": tableName,
		"CORS_URL":   c.AllowedOrigin,
	}
}

// Warnings lists the questionable parts of the declared stack; they are
// reported to the user but do not prevent synthesis.
func (c Config) Warnings() []string {
	warnings := []string{
		fmt.Sprintf("the %s stage produces %q but no stage deploys it to bucket %q", BuildStageName, BuildArtifactName, c.BucketName),
	}
	if c.SortKey == "password" || c.PartitionKey == "password" {
		warnings = append(warnings, fmt.Sprintf("table %q uses an attribute named \"password\" as a key; key attributes are visible in every item listing", c.TableName))
	}
	if c.AllowedOrigin == WildcardOrigin {
		warnings = append(warnings, "allowedOrigin is \"*\"; set it to the CDN domain once the distribution exists")
	}
	return warnings
}
