// Package tls terminates TLS for the exporter HTTP server.
//
//	server:
//	  tls:
//	    enabled: true
//	    cert_file: /etc/exporter/tls/server.crt
//	    key_file: /etc/exporter/tls/server.key
//	    min_version: "1.3"
//	    reload_interval: 5m
//
// The certificate is served through tls.Config.GetCertificate from a
// CertificateReloader, which polls the files and swaps in renewed pairs.
// A pair that fails to load or is outside its validity window is rejected
// and the previous certificate stays in use.
package tls
