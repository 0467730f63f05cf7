package pulumi

import (
	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/apigateway"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// CorsOptions are the resources that make up a mocked OPTIONS method.
type CorsOptions struct {
	Method              *apigateway.Method
	Integration         *apigateway.Integration
	MethodResponse      *apigateway.MethodResponse
	IntegrationResponse *apigateway.IntegrationResponse
}

// AddCorsOptions answers preflight requests on resource with a mock
// integration. Resource names are derived from name; existing methods on the
// resource are not touched.
func AddCorsOptions(ctx *pulumi.Context, name string, api *apigateway.RestApi, resource *apigateway.Resource, origin string, opts ...pulumi.ResourceOption) (*CorsOptions, error) {
	method, err := apigateway.NewMethod(ctx, name, &apigateway.MethodArgs{
		RestApi:       api.ID(),
		ResourceId:    resource.ID(),
		HttpMethod:    pulumi.String(cors.Method),
		Authorization: pulumi.String("NONE"),
	}, opts...)
	if err != nil {
		return nil, err
	}

	integration, err := apigateway.NewIntegration(ctx, name+"-integration", &apigateway.IntegrationArgs{
		RestApi:             api.ID(),
		ResourceId:          resource.ID(),
		HttpMethod:          method.HttpMethod,
		Type:                pulumi.String(cors.IntegrationMock),
		PassthroughBehavior: pulumi.String(cors.PassthroughNever),
		RequestTemplates:    pulumi.ToStringMap(cors.RequestTemplates()),
	}, opts...)
	if err != nil {
		return nil, err
	}

	methodResponse, err := apigateway.NewMethodResponse(ctx, name+"-response", &apigateway.MethodResponseArgs{
		RestApi:            api.ID(),
		ResourceId:         resource.ID(),
		HttpMethod:         method.HttpMethod,
		StatusCode:         pulumi.String(cors.StatusCode),
		ResponseParameters: pulumi.ToBoolMap(cors.MethodResponseParameters()),
	}, opts...)
	if err != nil {
		return nil, err
	}

	integrationResponse, err := apigateway.NewIntegrationResponse(ctx, name+"-integration-response", &apigateway.IntegrationResponseArgs{
		RestApi:            api.ID(),
		ResourceId:         resource.ID(),
		HttpMethod:         method.HttpMethod,
		StatusCode:         methodResponse.StatusCode,
		ResponseParameters: pulumi.ToStringMap(cors.IntegrationResponseParameters(origin)),
	}, append(opts, pulumi.DependsOn([]pulumi.Resource{integration}))...)
	if err != nil {
		return nil, err
	}

	return &CorsOptions{
		Method:              method,
		Integration:         integration,
		MethodResponse:      methodResponse,
		IntegrationResponse: integrationResponse,
	}, nil
}
