package postgres

import (
	"context"
	"fmt"

	"hybridauth/internal/core/tenant"
)

// TenantTx returns the tenant *TxManager bound to ctx by an active tenant scope.
// Tenant repositories call it on every operation; the gate guarantees a scope
// exists before any handler runs.
func TenantTx(ctx context.Context) *TxManager {
	txm := tenant.MustGetTxManager(ctx)
	pgTxm, ok := txm.(*TxManager)
	if !ok || pgTxm == nil {
		panic(fmt.Sprintf("tenant tx manager has unexpected type: %T", txm))
	}
	return pgTxm
}
