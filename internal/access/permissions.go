package access

import "fmt"

// PermAdministerGroup bypasses all membership-based checks.
const PermAdministerGroup = "group.administer"

// CreatePermission is the bundle's own creation capability key.
func CreatePermission(entityType, bundle string) string {
	return fmt.Sprintf("%s.%s.create", entityType, bundle)
}

// OperationPermission is the group-scoped capability key for an operation
// on entities of one type.
func OperationPermission(entityType, operation string) string {
	return fmt.Sprintf("%s.%s", entityType, operation)
}
