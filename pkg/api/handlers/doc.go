// Package handlers implements the export REST API.
//
//	POST   /exports                      create a single export
//	POST   /exports/batch                create a batch export
//	GET    /exports/formats              formats permitted to the caller
//	GET    /exports/{id}/status          progress, download URL or error
//	GET    /exports/{id}/download        stream the artifact (?index=n for split batches)
//	POST   /exports/{id}/cancel          cancel a running export
//	POST   /exports/{id}/retry           retry a failed export
//	DELETE /exports/{id}                 remove the export and its artifacts
//	GET    /users/{id}/exports           paginated history (?limit&offset&status&kind&format)
//	GET    /users/{id}/exports/stats     aggregate counts
//
// Every handler expects the authenticated principal in the request context
// and answers errors with the envelope from package types.
package handlers
