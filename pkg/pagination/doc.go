// Package pagination follows token cursors across paginated endpoints.
//
// Paginated responses carry an opaque continuation token in the payload
// (NextToken); the next page is requested by passing that token back as a
// query parameter. Pages therefore chain sequentially, each dispatched
// through the client's rate limiter like any other call.
//
// Example usage:
//
//	follower := pagination.NewFollower(apiClient, pagination.DefaultConfig())
//	pages, err := follower.FetchAll(ctx, "/orders/v0/orders", &client.RequestOptions{Query: query})
//
// The follower:
//   - Requests pages until the payload stops carrying a token
//   - Threads the token into the configured query parameter
//   - Caps the chain at MaxPages to survive a server that loops
//   - Returns the pages fetched so far alongside any error
package pagination
