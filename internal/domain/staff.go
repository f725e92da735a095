package domain

import (
	"strings"

	id "notaria/pkg/domain"
)

// StaffRole is the office role of an account. Roles double as the tie-break
// order for ambiguous fuzzy matches; see DefaultRolePriority.
type StaffRole string

const (
	RoleCaja       StaffRole = "CAJA"
	RoleMatrizador StaffRole = "MATRIZADOR"
	RoleArchivo    StaffRole = "ARCHIVO"
	RoleCopiadora  StaffRole = "COPIADORA"
	RoleAdmin      StaffRole = "ADMIN"
)

// DefaultRolePriority breaks ties between partial matches with equal overlap.
// Earlier roles win. The order is configurable; this is the office default.
var DefaultRolePriority = []StaffRole{RoleCaja, RoleMatrizador, RoleArchivo, RoleCopiadora}

// StaffAccount is a staff member eligible for document assignment.
type StaffAccount struct {
	ID        id.StaffID `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      StaffRole  `json:"role"`
	Active    bool       `json:"active"`
}

// FullName returns "first last" for matching and display.
func (a StaffAccount) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}
