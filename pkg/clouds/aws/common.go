package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type Region string

func (r Region) String() string {
	return string(r)
}

type Aws struct {
	AccountID string
	Region    Region
}

func (a *Aws) LoadConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(string(a.Region)))
	if err != nil {
		return cfg, err
	}
	if cfg.Region == "" {
		return cfg, errors.New("missing AWS region: set AWS_REGION or edit your AWS profile at ~/.aws/config")
	}
	a.Region = Region(cfg.Region)
	// the account is informational; an identity failure surfaces on the first real call
	if output, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err == nil {
		a.AccountID = *output.Account
	}
	return cfg, nil
}

// ConsoleURL links to the CloudFormation console of the region, for error messages.
func ConsoleURL(region Region) string {
	return "https://" + string(region) + ".console.aws.amazon.com/cloudformation/home"
}

// GetAccountID returns the account ID from an ARN of the form arn:partition:service:region:account:resource.
func GetAccountID(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return ""
	}
	return parts[4]
}
