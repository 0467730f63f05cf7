package cfn

import (
	"time"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
)

const (
	minDelay = 1 * time.Second
	// CloudFront distributions alone can take 15+ minutes to deploy
	defaultStackTimeout = 40 * time.Minute
)

// stackTimeout bounds every stack wait; override with STARTUP_STACK_TIMEOUT (e.g. "1h").
func stackTimeout() time.Duration {
	if d, err := time.ParseDuration(pkg.Getenv("STARTUP_STACK_TIMEOUT", "")); err == nil && d > 0 {
		return d
	}
	return defaultStackTimeout
}

func update1s(o *cloudformation.StackUpdateCompleteWaiterOptions) {
	o.MinDelay = minDelay
}

func delete1s(o *cloudformation.StackDeleteCompleteWaiterOptions) {
	o.MinDelay = minDelay
}

func create1s(o *cloudformation.StackCreateCompleteWaiterOptions) {
	o.MinDelay = minDelay
}
