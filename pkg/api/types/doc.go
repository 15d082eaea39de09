// Package types defines the error envelope of the HTTP API and the mapping
// from engine errors to status codes:
//
//	validation, invalid state  400
//	missing API key            401
//	ownership mismatch         403
//	unknown export             404
//	rate limited               429
//	saturated engine           503
package types
