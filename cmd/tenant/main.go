// Package main provides CLI for tenant management.
// Usage: tenant create --id acme --name "ACME Corp" [--domain acme.example.com] [--owner <global-id>]
//        tenant list
//        tenant suspend <tenant-id>
//        tenant activate <tenant-id>
//        tenant rename <tenant-id> --name "ACME Inc" --version 3
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"hybridauth/internal/app"
	"hybridauth/internal/config"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/tenancy"
	"hybridauth/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		createTenant(ctx)
	case "list":
		listTenants(ctx)
	case "suspend":
		setStatus(ctx, tenant.StatusSuspended)
	case "activate":
		setStatus(ctx, tenant.StatusActive)
	case "rename":
		renameTenant(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hybridauth Tenant Management CLI

Usage:
  tenant <command> [options]

Commands:
  create    Create a tenant database and register the tenant
  list      List all tenants
  suspend   Suspend a tenant
  activate  Activate a suspended tenant
  rename    Rename a tenant (optimistic version check)
  help      Show this help

Environment Variables:
  CENTRAL_DATABASE_URL  Connection string for the central database (required)
  TENANT_DB_USER        Username for tenant databases (required)
  TENANT_DB_PASSWORD    Password for tenant databases (required)

Examples:
  tenant create --id acme --name "ACME Corporation" --domain auth.acme.com
  tenant create --id acme --name "ACME Corporation" --owner <global-id>
  tenant list
  tenant suspend acme
  tenant activate acme
  tenant rename acme --name "ACME Inc" --version 2`)
}

// flags collects --key value pairs starting at os.Args[start]. Repeated keys
// accumulate.
func flags(start int) map[string][]string {
	out := map[string][]string{}
	for i := start; i < len(os.Args); i++ {
		arg := os.Args[i]
		if !strings.HasPrefix(arg, "--") || i+1 >= len(os.Args) {
			continue
		}
		key := strings.TrimPrefix(arg, "--")
		out[key] = append(out[key], os.Args[i+1])
		i++
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// mustApp wires the services. Only warnings and errors are logged so the CLI
// output stays readable.
func mustApp(ctx context.Context) *app.App {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: "warn", Development: true})
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Printf("Error connecting: %v\n", err)
		os.Exit(1)
	}
	return a
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func createTenant(ctx context.Context) {
	f := flags(2)
	in := tenancy.ProvisionInput{
		CreateInput: tenant.CreateInput{
			ID:      first(f["id"]),
			Name:    first(f["name"]),
			Domains: f["domain"],
			DBHost:  first(f["db-host"]),
		},
	}
	if in.ID == "" || in.Name == "" {
		fmt.Println("Error: --id and --name are required")
		fmt.Println("Usage: tenant create --id <id> --name <name> [--domain <domain>]... [--owner <global-id>] [--db-host <host>] [--db-port <port>]")
		os.Exit(1)
	}
	if port := first(f["db-port"]); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			fail(fmt.Errorf("invalid --db-port: %w", err))
		}
		in.DBPort = n
	}
	if owner := first(f["owner"]); owner != "" {
		gid, err := uuid.Parse(owner)
		if err != nil {
			fail(fmt.Errorf("invalid --owner: %w", err))
		}
		in.OwnerGlobalID = &gid
	}

	a := mustApp(ctx)
	defer a.Close()

	fmt.Printf("Creating tenant '%s'...\n", in.ID)
	t, err := a.Tenancy.Provision(ctx, in)
	if err != nil {
		fail(err)
	}

	fmt.Printf("\n✓ Tenant '%s' created successfully!\n", t.ID)
	fmt.Printf("  Name: %s\n", t.Name)
	fmt.Printf("  Database: %s\n", t.DBName)
	fmt.Printf("  Status: %s\n", t.Status)
	if len(t.Domains) > 0 {
		fmt.Printf("  Domains: %s\n", strings.Join(t.Domains, ", "))
	}
}

func listTenants(ctx context.Context) {
	a := mustApp(ctx)
	defer a.Close()

	tenants, err := a.Tenancy.List(ctx)
	if err != nil {
		fail(err)
	}

	if len(tenants) == 0 {
		fmt.Println("No tenants found")
		return
	}

	fmt.Printf("%-24s %-30s %-24s %-8s %-10s %s\n", "TENANT_ID", "NAME", "DATABASE", "VERSION", "STATUS", "DOMAINS")
	fmt.Println(strings.Repeat("-", 120))

	for _, t := range tenants {
		fmt.Printf("%-24s %-30s %-24s %-8d %-10s %s\n",
			truncate(t.ID, 24),
			truncate(t.Name, 30),
			truncate(t.DBName, 24),
			t.Version,
			t.Status,
			strings.Join(t.Domains, ","),
		)
	}
}

func setStatus(ctx context.Context, status tenant.Status) {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: tenant %s <tenant-id>\n", os.Args[1])
		os.Exit(1)
	}
	tenantID := os.Args[2]

	a := mustApp(ctx)
	defer a.Close()

	var (
		t   *tenant.Tenant
		err error
	)
	if status == tenant.StatusSuspended {
		t, err = a.Tenancy.Suspend(ctx, tenantID)
	} else {
		t, err = a.Tenancy.Activate(ctx, tenantID)
	}
	if err != nil {
		fail(err)
	}

	fmt.Printf("✓ Tenant '%s' is now %s (version %d)\n", t.ID, t.Status, t.Version)
}

func renameTenant(ctx context.Context) {
	if len(os.Args) < 3 || strings.HasPrefix(os.Args[2], "--") {
		fmt.Println("Usage: tenant rename <tenant-id> --name <name> --version <version>")
		os.Exit(1)
	}
	tenantID := os.Args[2]
	f := flags(3)
	name := first(f["name"])
	version, err := strconv.ParseInt(first(f["version"]), 10, 64)
	if name == "" || err != nil {
		fmt.Println("Error: --name and a numeric --version are required")
		os.Exit(1)
	}

	a := mustApp(ctx)
	defer a.Close()

	t, err := a.Tenancy.Update(ctx, tenantID, version, tenancy.Patch{Name: &name})
	if err != nil {
		fail(err)
	}

	fmt.Printf("✓ Tenant '%s' renamed to '%s' (version %d)\n", t.ID, t.Name, t.Version)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
