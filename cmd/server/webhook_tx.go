package main

import (
	"context"
	"database/sql"
	"time"

	"idsync/internal/webhook/service"
	identitystore "idsync/internal/webhook/store/identity"
	ledgerstore "idsync/internal/webhook/store/ledger"
	dErrors "idsync/pkg/domain-errors"
)

const defaultWebhookTxTimeout = 5 * time.Second

// webhookPostgresTx scopes each delivery's idempotency reservation and
// snapshot update to a single database transaction, so a failed apply
// releases its reservation and the provider's retry is not mistaken for a
// duplicate.
type webhookPostgresTx struct {
	db      *sql.DB
	timeout time.Duration

	// ledger, when set, replaces the transaction-bound Postgres ledger.
	// An external ledger does not participate in the transaction; a
	// rolled-back apply leaves its reservation behind until the entry
	// expires.
	ledger service.Ledger
}

func newWebhookPostgresTx(db *sql.DB) *webhookPostgresTx {
	return &webhookPostgresTx{db: db}
}

// WithLedger substitutes an out-of-transaction ledger, e.g. the Redis one.
func (t *webhookPostgresTx) WithLedger(l service.Ledger) *webhookPostgresTx {
	t.ledger = l
	return t
}

func (t *webhookPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores service.TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultWebhookTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	stores := service.TxStores{
		Identities: identitystore.NewPostgresTx(tx),
		Ledger:     ledgerstore.NewPostgresTx(tx),
	}
	if t.ledger != nil {
		stores.Ledger = t.ledger
	}

	if err := fn(ctx, stores); err != nil {
		return err
	}

	return tx.Commit()
}
