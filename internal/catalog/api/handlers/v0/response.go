package v0

// Response is a generic wrapper for Huma responses
// Usage: Response[HealthBody] instead of HealthOutput
type Response[T any] struct {
	Body T
}

// EmptyResponse represents a simple success response with a message
type EmptyResponse struct {
	Message string `json:"message" doc:"Success message" example:"Operation completed successfully"`
}

// Metadata carries pagination details alongside list payloads.
type Metadata struct {
	NextCursor string `json:"nextCursor,omitempty" doc:"Cursor for the next page, empty on the last page"`
	Count      int    `json:"count" doc:"Number of items in this page"`
}
