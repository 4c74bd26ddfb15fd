// Package client provides a load generator for a running pool-server.
//
// The Client drives its own worker.Pool: every job dials the server, sends
// one request line and reads the status line back. Latency and success are
// recorded in a metrics.Metrics.
//
// # Basic Usage
//
//	c := client.New("127.0.0.1:7878", client.DefaultConfig())
//	snap := c.RunRequests(ctx, 1000)
//	fmt.Printf("ok: %d, failed: %d, p99: %v\n",
//	    snap.SuccessJobs, snap.FailedJobs, snap.P99Latency)
//
// A response with a status code of 500 or above counts as a failure; a 404
// is a successful round trip.
package client
