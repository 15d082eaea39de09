// Exporter runs export jobs for detection records and streams their
// progress to clients.
//
// Usage:
//
//	# Start the service with built-in defaults
//	exporter run
//
//	# Start with a configuration file
//	exporter run --config /etc/exporter/config.yaml
//
//	# Inspect jobs in the configured store
//	exporter jobs list --owner alice --status failed
//
//	# Follow an export from the terminal
//	exporter watch 6f1c2a9e-... --api-key $KEY
//
//	# Validate a configuration file
//	exporter validate-config --config config.yaml
package main

func main() {
	Execute()
}
