// Package transport is the network edge of coven-router.
//
// # HTTP
//
// API.Routes builds a chi router with:
//
//   - POST /api/messages - decode an activity and submit it to the router
//   - GET /health - liveness
//   - GET /health/ready - 200 only while the router is running
//   - GET <metrics path> - Prometheus exposition, when metrics are enabled
//
// The intake acknowledges with 202 once the activity is queued; routing
// happens asynchronously. A stopped router answers 503 so the channel
// retries elsewhere. Activities carrying an ID are remembered in a dedupe
// cache and redeliveries are acknowledged with 200 without being routed.
//
// # gRPC
//
// When a gRPC address is configured, Server also runs the standard
// grpc.health.v1 service. Its status follows the router: SERVING only
// while Running. Reflection is registered for grpcurl.
//
// # Lifecycle
//
//	srv := transport.NewServer(params)
//	errCh, err := srv.Start()
//	...
//	srv.Shutdown(ctx)
package transport
