package tools

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/atlas"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
)

// AtlasToolSet registers the control-plane tools. They talk to the Atlas
// administration API with service-account credentials, independent of any
// cluster connection the session holds.
type AtlasToolSet struct {
	cfg *config.Config
	api atlas.API
}

func NewAtlasToolSet(cfg *config.Config, api atlas.API) *AtlasToolSet {
	return &AtlasToolSet{cfg: cfg, api: api}
}

// Register adds every Atlas tool to the server through the dispatcher.
func (t *AtlasToolSet) Register(d *Dispatcher, server *mcp.Server) {
	register(d, server, "atlas-list-orgs", t.ListOrganizations)
	register(d, server, "atlas-list-projects", t.ListProjects)
	register(d, server, "atlas-list-clusters", t.ListClusters)
	register(d, server, "atlas-inspect-cluster", t.InspectCluster)
	register(d, server, "atlas-create-access-list", t.CreateAccessList)
	register(d, server, "atlas-create-db-user", t.CreateDatabaseUser)
	register(d, server, "atlas-list-db-users", t.ListDatabaseUsers)
}

func (t *AtlasToolSet) client() (atlas.API, error) {
	if t.api == nil {
		return nil, errs.New(errs.CodeFeatureDisabled,
			"the Atlas tools require service-account credentials; set apiClientId and apiClientSecret")
	}
	return t.api, nil
}

// ListOrganizationsArgs is empty; the tool takes no arguments.
type ListOrganizationsArgs struct{}

func (t *AtlasToolSet) ListOrganizations(ctx context.Context, _ *Invocation, _ ListOrganizationsArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	orgs, err := api.ListOrganizations(ctx)
	if err != nil {
		return "", err
	}
	if len(orgs) == 0 {
		return "No organizations are visible to the configured credentials.", nil
	}
	var lines []string
	for _, org := range orgs {
		lines = append(lines, fmt.Sprintf("%s (%s)", org.Name, org.ID))
	}
	summary := fmt.Sprintf("Found %d organizations:", len(orgs))
	return FormatUntrustedData(summary, strings.Join(lines, "\n")), nil
}

// ListProjectsArgs are the arguments of the atlas-list-projects tool.
type ListProjectsArgs struct {
	OrgID string `json:"orgId,omitempty" jsonschema:"Restrict the listing to one organization"`
}

func (t *AtlasToolSet) ListProjects(ctx context.Context, _ *Invocation, args ListProjectsArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	projects, err := api.ListProjects(ctx, args.OrgID)
	if err != nil {
		return "", err
	}
	if len(projects) == 0 {
		return "No projects were found.", nil
	}
	var lines []string
	for _, p := range projects {
		lines = append(lines, fmt.Sprintf("%s (%s): %d clusters", p.Name, p.ID, p.ClusterCount))
	}
	summary := fmt.Sprintf("Found %d projects:", len(projects))
	return FormatUntrustedData(summary, strings.Join(lines, "\n")), nil
}

// ProjectArgs identify one Atlas project.
type ProjectArgs struct {
	ProjectID string `json:"projectId" jsonschema:"Atlas project ID"`
}

func (a ProjectArgs) Validate() error {
	if strings.TrimSpace(a.ProjectID) == "" {
		return errs.FieldError("projectId", "must not be empty")
	}
	return nil
}

func (t *AtlasToolSet) ListClusters(ctx context.Context, _ *Invocation, args ProjectArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	clusters, err := api.ListClusters(ctx, args.ProjectID)
	if err != nil {
		return "", err
	}
	if len(clusters) == 0 {
		return fmt.Sprintf("Project %s has no clusters.", args.ProjectID), nil
	}
	var lines []string
	for _, c := range clusters {
		state := c.StateName
		if c.Paused {
			state = "PAUSED"
		}
		lines = append(lines, fmt.Sprintf("%s: %s, MongoDB %s, %s", c.Name, state, c.MongoDBVersion, c.ClusterType))
	}
	summary := fmt.Sprintf("Found %d clusters in project %s:", len(clusters), args.ProjectID)
	return FormatUntrustedData(summary, strings.Join(lines, "\n")), nil
}

// InspectClusterArgs are the arguments of the atlas-inspect-cluster tool.
type InspectClusterArgs struct {
	ProjectArgs
	ClusterName string `json:"clusterName" jsonschema:"Name of the cluster to inspect"`
}

func (a InspectClusterArgs) Validate() error {
	if err := a.ProjectArgs.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.ClusterName) == "" {
		return errs.FieldError("clusterName", "must not be empty")
	}
	return nil
}

func (t *AtlasToolSet) InspectCluster(ctx context.Context, _ *Invocation, args InspectClusterArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	cluster, err := api.GetCluster(ctx, args.ProjectID, args.ClusterName)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", cluster.Name)
	fmt.Fprintf(&b, "State: %s\n", cluster.StateName)
	fmt.Fprintf(&b, "Type: %s\n", cluster.ClusterType)
	fmt.Fprintf(&b, "MongoDB version: %s\n", cluster.MongoDBVersion)
	fmt.Fprintf(&b, "Paused: %t\n", cluster.Paused)
	if cluster.DiskSizeGB > 0 {
		fmt.Fprintf(&b, "Disk size: %.0f GB\n", cluster.DiskSizeGB)
	}
	if cluster.ConnectionStrings.StandardSrv != "" {
		fmt.Fprintf(&b, "Connection string (SRV): %s\n", cluster.ConnectionStrings.StandardSrv)
	}
	if cluster.ConnectionStrings.Standard != "" {
		fmt.Fprintf(&b, "Connection string: %s\n", cluster.ConnectionStrings.Standard)
	}
	summary := fmt.Sprintf("Cluster %q in project %s:", args.ClusterName, args.ProjectID)
	return FormatUntrustedData(summary, strings.TrimSuffix(b.String(), "\n")), nil
}

// CreateAccessListArgs are the arguments of the atlas-create-access-list
// tool. Each entry is an IPv4/IPv6 address or a CIDR block.
type CreateAccessListArgs struct {
	ProjectArgs
	Entries []string `json:"entries" jsonschema:"IP addresses or CIDR blocks to allow"`
	Comment string   `json:"comment,omitempty" jsonschema:"Comment attached to every created entry"`
}

func (a CreateAccessListArgs) Validate() error {
	if err := a.ProjectArgs.Validate(); err != nil {
		return err
	}
	if len(a.Entries) == 0 {
		return errs.FieldError("entries", "must contain at least one address or CIDR block")
	}
	for _, entry := range a.Entries {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		return errs.FieldError("entries", fmt.Sprintf("%q is neither an IP address nor a CIDR block", entry))
	}
	return nil
}

func (t *AtlasToolSet) CreateAccessList(ctx context.Context, _ *Invocation, args CreateAccessListArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	entries := make([]atlas.AccessListEntry, 0, len(args.Entries))
	for _, raw := range args.Entries {
		entry := atlas.AccessListEntry{Comment: args.Comment}
		if net.ParseIP(raw) != nil {
			entry.IPAddress = raw
		} else {
			entry.CIDRBlock = raw
		}
		entries = append(entries, entry)
	}
	if err := api.CreateAccessListEntries(ctx, args.ProjectID, entries); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %d entries to the access list of project %s.", len(entries), args.ProjectID), nil
}

// CreateDatabaseUserArgs are the arguments of the atlas-create-db-user
// tool. Without a password a temporary user with a generated password and a
// bounded lifetime is created.
type CreateDatabaseUserArgs struct {
	ProjectArgs
	Username string   `json:"username" jsonschema:"Name of the user to create"`
	Password string   `json:"password,omitempty" jsonschema:"Password; omit to generate one and bound the user's lifetime"`
	Roles    []string `json:"roles" jsonschema:"Built-in role grants as role or role@database, for example readWrite@media"`
}

func (a CreateDatabaseUserArgs) Validate() error {
	if err := a.ProjectArgs.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Username) == "" {
		return errs.FieldError("username", "must not be empty")
	}
	if len(a.Roles) == 0 {
		return errs.FieldError("roles", "must contain at least one role")
	}
	for _, role := range a.Roles {
		if strings.TrimSpace(role) == "" || strings.Count(role, "@") > 1 {
			return errs.FieldError("roles", fmt.Sprintf("%q is not a role or role@database grant", role))
		}
	}
	return nil
}

func (t *AtlasToolSet) CreateDatabaseUser(ctx context.Context, _ *Invocation, args CreateDatabaseUserArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}

	user := atlas.DatabaseUser{
		Username:     args.Username,
		Password:     args.Password,
		DatabaseName: "admin",
		GroupID:      args.ProjectID,
		Roles:        parseRoleGrants(args.Roles),
	}

	temporary := args.Password == ""
	if temporary {
		password, err := generatePassword()
		if err != nil {
			return "", err
		}
		user.Password = password
		lifetime := t.cfg.AtlasTemporaryDatabaseUserLifetime()
		user.DeleteAfterDate = time.Now().Add(lifetime).UTC().Format(time.RFC3339)
	}

	if err := api.CreateDatabaseUser(ctx, user); err != nil {
		return "", err
	}

	if temporary {
		return fmt.Sprintf("Created temporary user %q in project %s.\nPassword: %s\nThe user will be deleted after %s.",
			user.Username, args.ProjectID, user.Password, user.DeleteAfterDate), nil
	}
	return fmt.Sprintf("Created user %q in project %s.", user.Username, args.ProjectID), nil
}

func (t *AtlasToolSet) ListDatabaseUsers(ctx context.Context, _ *Invocation, args ProjectArgs) (string, error) {
	api, err := t.client()
	if err != nil {
		return "", err
	}
	users, err := api.ListDatabaseUsers(ctx, args.ProjectID)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return fmt.Sprintf("Project %s has no database users.", args.ProjectID), nil
	}
	var lines []string
	for _, u := range users {
		grants := make([]string, 0, len(u.Roles))
		for _, r := range u.Roles {
			grant := r.RoleName
			if r.DatabaseName != "" {
				grant += "@" + r.DatabaseName
			}
			grants = append(grants, grant)
		}
		line := fmt.Sprintf("%s: %s", u.Username, strings.Join(grants, ", "))
		if u.DeleteAfterDate != "" {
			line += fmt.Sprintf(" (temporary, deleted after %s)", u.DeleteAfterDate)
		}
		lines = append(lines, line)
	}
	summary := fmt.Sprintf("Found %d database users in project %s:", len(users), args.ProjectID)
	return FormatUntrustedData(summary, strings.Join(lines, "\n")), nil
}

// parseRoleGrants splits role or role@database grants. Roles without a
// database default to admin.
func parseRoleGrants(grants []string) []atlas.DatabaseUserRole {
	roles := make([]atlas.DatabaseUserRole, 0, len(grants))
	for _, grant := range grants {
		role := atlas.DatabaseUserRole{RoleName: grant, DatabaseName: "admin"}
		if name, db, ok := strings.Cut(grant, "@"); ok {
			role.RoleName = name
			role.DatabaseName = db
		}
		roles = append(roles, role)
	}
	return roles
}

func generatePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.CodeUnexpected, "failed to generate a password", err)
	}
	return hex.EncodeToString(buf), nil
}
