// Package api provides the HTTP seam in front of the tool dispatcher.
//
// Routes:
//
//	GET  /health          dependency health
//	GET  /metrics         Prometheus metrics
//	GET  /tools           tool catalogue with parameter schemas
//	POST /tools/{name}    {"arguments": {...}} runs one tool
//	GET  /devices         device summaries (?online_only=true)
//	GET  /devices/{id}    full device snapshot
//
// Tool errors keep their dispatch code in the body; the HTTP status follows
// the code (400 invalid_arguments, 404 not_found, 409 precondition_failed,
// 502 publish_failed).
//
//	server, err := api.New(deps)
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
package api
