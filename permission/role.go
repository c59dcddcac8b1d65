package permission

// Role identifies one of the closed set of marketplace roles. The set is
// fixed at compile time; free-form role strings are rejected by the Table.
type Role string

const (
	// RolePatient is an end user ordering medicines and booking services.
	RolePatient Role = "patient"
	// RoleDoctor is a practitioner issuing prescriptions.
	RoleDoctor Role = "doctor"
	// RolePharmacy is a dispensing pharmacy storefront.
	RolePharmacy Role = "pharmacy"
	// RoleHospital is a hospital or clinic organization account.
	RoleHospital Role = "hospital"
	// RolePharma is a pharmaceutical distributor account.
	RolePharma Role = "pharma"
	// RoleAdmin is a platform operator with the wildcard grant.
	RoleAdmin Role = "admin"
)

// KnownRoles lists every valid role in declaration order.
var KnownRoles = []Role{
	RolePatient,
	RoleDoctor,
	RolePharmacy,
	RoleHospital,
	RolePharma,
	RoleAdmin,
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacy, RoleHospital, RolePharma, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
