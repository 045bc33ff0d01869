package dashboard

import "github.com/JoeMarian/bluedropwithvps/core/user"

// CanView reports whether usr may read the dashboard and its data:
// admins, its creator, assigned users, or anyone when it is public.
func CanView(d Dashboard, usr user.User) bool {
	return d.IsPublic || CanEdit(d, usr) || d.IsAssigned(usr.ID)
}

// CanEdit reports whether usr may modify or delete the dashboard: admins & its creator.
func CanEdit(d Dashboard, usr user.User) bool {
	return usr.IsAdmin || (d.CreatedBy.Valid && d.CreatedBy.String == usr.ID)
}
