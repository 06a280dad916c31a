// Package schema embeds the bootstrap DDL for the central database and for
// freshly provisioned tenant databases. Statements are idempotent.
package schema

import _ "embed"

//go:embed central.sql
var Central string

//go:embed tenant.sql
var Tenant string
