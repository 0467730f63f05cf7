// Package cors holds the static preflight response attached to API resources.
// The response is mocked by API Gateway and never reaches a backend.
package cors

import "net/http"

const (
	Method           = http.MethodOptions
	StatusCode       = "200"
	ContentType      = "application/json"
	RequestTemplate  = `{"statusCode": 200}`
	AllowHeaders     = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token,X-Amz-User-Agent"
	AllowCredentials = "false"
	AllowMethods     = "OPTIONS,GET,PUT,POST,DELETE"

	PassthroughNever = "NEVER"
	IntegrationMock  = "MOCK"

	headerParamPrefix = "method.response.header."
)

// HeaderNames are the response headers declared on the OPTIONS method, in declaration order.
var HeaderNames = []string{
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Allow-Methods",
}

// Headers is the preflight response as a client observes it.
func Headers(origin string) http.Header {
	h := http.Header{}
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", AllowCredentials)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	return h
}

// ResponseParameter maps a header name to its API Gateway method response parameter.
func ResponseParameter(header string) string {
	return headerParamPrefix + header
}

// IntegrationResponseParameters maps each method response header to a static
// value. API Gateway expects literals to be single-quoted.
func IntegrationResponseParameters(origin string) map[string]string {
	h := Headers(origin)
	params := make(map[string]string, len(HeaderNames))
	for _, name := range HeaderNames {
		params[ResponseParameter(name)] = "'" + h.Get(name) + "'"
	}
	return params
}

// MethodResponseParameters declares the headers on the method response.
func MethodResponseParameters() map[string]bool {
	params := make(map[string]bool, len(HeaderNames))
	for _, name := range HeaderNames {
		params[ResponseParameter(name)] = true
	}
	return params
}

func RequestTemplates() map[string]string {
	return map[string]string{ContentType: RequestTemplate}
}
