package service

import "fmt"

// Permission decides whether an identity may call a route. A nil identity
// means the caller is anonymous.
type Permission interface {
	Check(id *Identity) error
}

type PermissionFunc func(id *Identity) error

func (f PermissionFunc) Check(id *Identity) error {
	return f(id)
}

// EndUserOnly rejects staff and superusers.
var EndUserOnly = PermissionFunc(func(id *Identity) error {
	if id == nil {
		return errNoCredentials
	}
	if id.User.IsAdmin() {
		return fmt.Errorf("%w: end users only", ErrForbidden)
	}
	return nil
})

var StaffOnly = PermissionFunc(func(id *Identity) error {
	if id == nil {
		return errNoCredentials
	}
	if !id.User.IsStaff {
		return fmt.Errorf("%w: staff only", ErrForbidden)
	}
	return nil
})

// SuperUserOnly needs both the staff and the superuser flag.
var SuperUserOnly = PermissionFunc(func(id *Identity) error {
	if id == nil {
		return errNoCredentials
	}
	if !id.User.IsStaff || !id.User.IsSuperuser {
		return fmt.Errorf("%w: missing superuser status", ErrForbidden)
	}
	return nil
})

func CheckPermissions(id *Identity, perms []Permission) error {
	for _, p := range perms {
		if err := p.Check(id); err != nil {
			return err
		}
	}
	return nil
}
