// Package auth implements API key authentication.
//
// Each configured key maps to a principal: a user ID, a role (user or
// admin) and a tier. The tier selects the permission facts applied by the
// export engine. Keys are read from the configured sources in order:
//
//	auth:
//	  enabled: true
//	  sources:
//	    - {type: header, name: Authorization, scheme: Bearer}
//	    - {type: header, name: X-API-Key}
//	    - {type: query, name: api_key}
//	  keys:
//	    - {key: "sk-alice", user_id: alice, role: user, tier: premium}
//	    - {key: "sk-ops", user_id: ops, role: admin, tier: enterprise}
//
// With authentication disabled every request runs as the anonymous
// principal. The key set is replaced in place on configuration reload.
package auth
