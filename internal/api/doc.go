// Package api serves the admin HTTP surface of pool-server.
//
// Routes:
//
//	GET  /api/status               pool size, live workers, queue length
//	GET  /api/workers              per-worker state and job counts
//	POST /api/workers/{id}/respawn replace a dead worker
//	GET  /api/metrics              job metrics as JSON
//	GET  /metrics                  Prometheus exposition
//	     /ws                       websocket stream of pool events
//
// The websocket stream forwards every event from the pool's event bus and a
// status message once a second.
package api
