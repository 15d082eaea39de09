// Package secrets resolves ${secret:name} references in credential
// fields of the exporter configuration.
//
// Secrets come from a directory of files, when configured, and then from
// environment variables:
//
//	secrets:
//	  dir: /var/run/secrets/exporter
//	  watch: true
//	  env_prefix: EXPORTER_SECRET_
//
//	artifacts:
//	  s3:
//	    secret_access_key: ${secret:s3-secret-key}
//
// With the configuration above the key is read from
// /var/run/secrets/exporter/s3-secret-key, falling back to
// EXPORTER_SECRET_S3_SECRET_KEY. Secret files must be mode 0600 or 0400.
package secrets
