// Package permissions maps roles to the report permissions they grant and
// checks them with wildcard support.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "reports.*" - All actions on reports
//   - "reports.action" - Specific action (e.g., "reports.read")
package permissions

import (
	"strings"
)

// Report permissions
const (
	ReportsRead     = "reports.read"
	ReportsExport   = "reports.export"
	ReportsGenerate = "reports.generate"
	ReportsSend     = "reports.send"
	ReportsVerify   = "reports.verify"
)

// Role names issued in access tokens
const (
	RoleAdmin     = "admin"
	RoleExpert    = "perito"
	RoleAssistant = "assistente"
)

// rolePermissions is the fixed grant table. Assistants may read, download
// and verify reports but not generate or email them.
var rolePermissions = map[string][]string{
	RoleAdmin:     {"*"},
	RoleExpert:    {"reports.*"},
	RoleAssistant: {ReportsRead, ReportsExport, ReportsVerify},
}

// ForRole returns the permissions granted to role. Unknown roles get none.
func ForRole(role string) []string {
	return rolePermissions[strings.ToLower(strings.TrimSpace(role))]
}

// Allowed reports whether role grants required
func Allowed(role, required string) bool {
	return HasPermission(ForRole(role), required)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "reports.*" matches "reports.read", "reports.send", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}

	for _, p := range userPerms {
		if p == "*" {
			return true
		}
		if p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}
