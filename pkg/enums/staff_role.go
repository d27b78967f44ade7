package enums

import "fmt"

// StaffRole controls access to back-office billing operations.
type StaffRole string

const (
	StaffRoleAdmin      StaffRole = "admin"
	StaffRoleBillingOps StaffRole = "billing_ops"
	StaffRoleSupport    StaffRole = "support"
)

func (r StaffRole) String() string {
	return string(r)
}

func (r StaffRole) IsValid() bool {
	switch r {
	case StaffRoleAdmin, StaffRoleBillingOps, StaffRoleSupport:
		return true
	}
	return false
}

// CanApproveRefunds reports whether the role may act as a refund approver.
// Support staff can open refund requests but never approve them.
func (r StaffRole) CanApproveRefunds() bool {
	return r == StaffRoleAdmin || r == StaffRoleBillingOps
}

func ParseStaffRole(value string) (StaffRole, error) {
	role := StaffRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid staff role: %q", value)
	}
	return role, nil
}
