package cfn

import (
	"fmt"
	"strconv"

	"github.com/DefangLabs/startup-stack/pkg/cors"
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/apigateway"
)

// AddCorsOptions adds a mocked OPTIONS method named logicalID to the resource
// identified by restApiID and resourceID. Existing methods are left alone; it
// is an error if the logical ID is taken or the resource already has OPTIONS.
func AddCorsOptions(template *cloudformation.Template, logicalID, restApiID, resourceID, origin string) error {
	if _, ok := template.Resources[logicalID]; ok {
		return fmt.Errorf("resource %q already exists", logicalID)
	}
	for name, res := range template.Resources {
		m, ok := res.(*apigateway.Method)
		if !ok {
			continue
		}
		if m.HttpMethod == cors.Method && m.RestApiId == restApiID && m.ResourceId == resourceID {
			return fmt.Errorf("resource already has an %s method: %q", cors.Method, name)
		}
	}

	template.Resources[logicalID] = &apigateway.Method{
		RestApiId:         restApiID,
		ResourceId:        resourceID,
		HttpMethod:        cors.Method,
		AuthorizationType: ptr.String("NONE"),
		Integration: &apigateway.Method_Integration{
			Type:                cors.IntegrationMock,
			PassthroughBehavior: ptr.String(cors.PassthroughNever),
			RequestTemplates:    cors.RequestTemplates(),
			IntegrationResponses: []apigateway.Method_IntegrationResponse{
				{
					StatusCode:         cors.StatusCode,
					ResponseParameters: cors.IntegrationResponseParameters(origin),
				},
			},
		},
		MethodResponses: []apigateway.Method_MethodResponse{
			{
				StatusCode:         cors.StatusCode,
				ResponseParameters: stringParams(cors.MethodResponseParameters()),
			},
		},
	}
	return nil
}

// stringParams renders a "required" map the way CloudFormation declares it.
func stringParams(params map[string]bool) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = strconv.FormatBool(v)
	}
	return out
}
