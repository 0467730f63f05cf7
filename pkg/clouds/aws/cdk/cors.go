package cdk

import (
	"fmt"

	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/jsii-runtime-go"
)

// AddCorsOptions answers preflight requests on resource with a mock
// integration. Other methods of the resource are not touched.
func AddCorsOptions(resource awsapigateway.IResource, origin string) (awsapigateway.Method, error) {
	if resource.Node().TryFindChild(jsii.String(cors.Method)) != nil {
		return nil, fmt.Errorf("%s already has an %s method", *resource.Path(), cors.Method)
	}

	integrationParams := map[string]*string{}
	for k, v := range cors.IntegrationResponseParameters(origin) {
		integrationParams[k] = jsii.String(v)
	}
	methodParams := map[string]*bool{}
	for k, v := range cors.MethodResponseParameters() {
		methodParams[k] = jsii.Bool(v)
	}
	requestTemplates := map[string]*string{}
	for k, v := range cors.RequestTemplates() {
		requestTemplates[k] = jsii.String(v)
	}

	integration := awsapigateway.NewMockIntegration(&awsapigateway.IntegrationOptions{
		IntegrationResponses: &[]*awsapigateway.IntegrationResponse{
			{
				StatusCode:         jsii.String(cors.StatusCode),
				ResponseParameters: &integrationParams,
			},
		},
		PassthroughBehavior: awsapigateway.PassthroughBehavior_NEVER,
		RequestTemplates:    &requestTemplates,
	})
	return resource.AddMethod(jsii.String(cors.Method), integration, &awsapigateway.MethodOptions{
		MethodResponses: &[]*awsapigateway.MethodResponse{
			{
				StatusCode:         jsii.String(cors.StatusCode),
				ResponseParameters: &methodParams,
			},
		},
	}), nil
}
