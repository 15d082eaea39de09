// Package security groups the exporter's transport and credential
// packages:
//
//   - auth: API key authentication and the request principal
//   - secrets: ${secret:name} resolution for credential fields
//   - tls: TLS termination with certificate reload
package security
