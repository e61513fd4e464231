package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HealthBody is the health check payload.
type HealthBody struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version" example:"dev"`
}

// VersionBody carries build information.
type VersionBody struct {
	Version   string `json:"version" example:"dev"`
	GitCommit string `json:"gitCommit,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
}

// RegisterHealthEndpoints registers health, ping, and version endpoints.
func RegisterHealthEndpoints(api huma.API, pathPrefix string, versionInfo *VersionBody) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"health"},
	}, func(context.Context, *struct{}) (*Response[HealthBody], error) {
		return &Response[HealthBody]{Body: HealthBody{Status: "ok", Version: versionInfo.Version}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        "/ping",
		Summary:     "Ping",
		Tags:        []string{"ping"},
	}, func(context.Context, *struct{}) (*Response[EmptyResponse], error) {
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "pong"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/version",
		Summary:     "Build version information",
		Tags:        []string{"version"},
	}, func(context.Context, *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: *versionInfo}, nil
	})
}
