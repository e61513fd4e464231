package v0

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// ListServersInput represents the input for listing canonical servers
type ListServersInput struct {
	Cursor       string `query:"cursor" doc:"Pagination cursor" required:"false"`
	Limit        int    `query:"limit" doc:"Number of items per page" default:"30" minimum:"1" maximum:"100"`
	Search       string `query:"search" doc:"Search servers by display name (substring match)" required:"false" example:"filesystem"`
	Conformance  string `query:"conformance" doc:"Filter by validation status" required:"false" enum:"unverified,verified,failed"`
	Source       string `query:"source" doc:"Only servers seen by this source" required:"false" enum:"community,github,npm"`
	MinStars     int    `query:"min_stars" doc:"Popularity floor" required:"false" minimum:"0"`
	UpdatedSince string `query:"updated_since" doc:"Filter servers updated since timestamp (RFC3339 datetime)" required:"false"`
}

// ServerDetailInput represents the input for getting one canonical server
type ServerDetailInput struct {
	ServerID string `path:"serverId" doc:"URL-encoded canonical identity" example:"https%3A%2F%2Fgithub.com%2Facme%2Fwidget"`
}

// ServerListResponse is the paginated list payload.
type ServerListResponse struct {
	Servers  []models.MergedServer `json:"servers"`
	Metadata Metadata              `json:"metadata"`
}

// RegisterServersEndpoints registers the read-only catalog endpoints.
func RegisterServersEndpoints(api huma.API, pathPrefix string, store database.Store) {
	tags := []string{"servers"}

	huma.Register(api, huma.Operation{
		OperationID: "list-servers",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers",
		Summary:     "List canonical MCP servers",
		Description: "Get a paginated list of merged server records from the catalog",
		Tags:        tags,
	}, func(ctx context.Context, input *ListServersInput) (*Response[ServerListResponse], error) {
		filter := &database.ServerFilter{}

		if input.Search != "" {
			filter.SubstringName = &input.Search
		}
		if input.Conformance != "" {
			conformance := models.Conformance(input.Conformance)
			filter.Conformance = &conformance
		}
		if input.Source != "" {
			source := models.Source(input.Source)
			filter.Source = &source
		}
		if input.MinStars > 0 {
			filter.MinStars = &input.MinStars
		}
		if input.UpdatedSince != "" {
			updatedTime, err := time.Parse(time.RFC3339, input.UpdatedSince)
			if err != nil {
				return nil, huma.Error400BadRequest("Invalid updated_since format: expected RFC3339 timestamp")
			}
			filter.UpdatedSince = &updatedTime
		}

		servers, nextCursor, err := store.ListMergedServers(ctx, filter, input.Cursor, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list servers", err)
		}

		serverValues := make([]models.MergedServer, len(servers))
		for i, server := range servers {
			serverValues[i] = *server
		}

		return &Response[ServerListResponse]{
			Body: ServerListResponse{
				Servers: serverValues,
				Metadata: Metadata{
					NextCursor: nextCursor,
					Count:      len(servers),
				},
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-server",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers/{serverId}",
		Summary:     "Get one canonical MCP server",
		Description: "Get the merged record for a canonical identity, including per-source payloads",
		Tags:        tags,
	}, func(ctx context.Context, input *ServerDetailInput) (*Response[models.MergedServer], error) {
		canonicalID, err := url.PathUnescape(input.ServerID)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid server id encoding", err)
		}

		server, err := store.GetMergedServer(ctx, canonicalID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, huma.Error404NotFound("Server not found")
			}
			return nil, huma.Error500InternalServerError("Failed to get server", err)
		}

		return &Response[models.MergedServer]{Body: *server}, nil
	})
}
