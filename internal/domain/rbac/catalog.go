package rbac

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout of a permission catalog:
//
//	permissions:
//	  - name: Users.users.read
//	    description: List tenant users
type catalogFile struct {
	Permissions []Permission `yaml:"permissions"`
}

// LoadCatalog reads and validates a catalog file. Module defaults to the
// first segment of the name and guard to DefaultGuard.
func LoadCatalog(r io.Reader) ([]Permission, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode permission catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Permissions))
	out := make([]Permission, 0, len(f.Permissions))
	for _, p := range f.Permissions {
		p.Name = strings.TrimSpace(p.Name)
		if !ValidPermissionName(p.Name) {
			return nil, fmt.Errorf("invalid permission name %q", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate permission %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		normalize(&p)
		out = append(out, p)
	}
	return out, nil
}

func normalize(p *Permission) {
	if p.Module == "" {
		p.Module, _, _ = strings.Cut(p.Name, ".")
	}
	if p.Guard == "" {
		p.Guard = DefaultGuard
	}
}

// DefaultCatalog returns the permissions the built-in roles and named
// expressions refer to.
func DefaultCatalog() []Permission {
	perms := []Permission{
		{Name: "Users.users.read", Description: "List tenant users and their roles"},
		{Name: "Users.users.create", Description: "Attach and invite users"},
		{Name: "Users.users.update", Description: "Change user roles"},
		{Name: "Users.users.delete", Description: "Detach users from the tenant"},
		{Name: "RolesAndPermissions.roles.read", Description: "List roles and the permission catalog"},
		{Name: "RolesAndPermissions.roles.create", Description: "Create roles"},
		{Name: "RolesAndPermissions.roles.update", Description: "Change role permissions"},
		{Name: "RolesAndPermissions.roles.assign", Description: "Assign and remove roles"},
		{Name: "Analytics.login_analytics.read", Description: "Read tenant login reports"},
		{Name: "Analytics.user_analytics.read", Description: "Read per-user login reports"},
		{Name: "Webhooks.webhooks.read", Description: "List webhooks and deliveries"},
		{Name: "Webhooks.webhooks.create", Description: "Create webhooks"},
		{Name: "Webhooks.webhooks.update", Description: "Enable and disable webhooks"},
		{Name: "Webhooks.webhooks.delete", Description: "Delete webhooks"},
		{Name: "Gdpr.delete_requests.manage", Description: "Approve or deny deletion requests"},
		{Name: "System.system.manage_all", Description: "Tenant owner", IsGlobal: true},
	}
	for i := range perms {
		normalize(&perms[i])
	}
	return perms
}
