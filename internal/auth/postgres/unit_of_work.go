// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/auth"
)

// TxBeginner starts transactions. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UnitOfWork implements auth.UnitOfWork over a pgx transaction. The
// repositories handed to fn share one transaction, so every mutation made
// through them commits or rolls back together.
type UnitOfWork struct {
	pool TxBeginner
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(pool TxBeginner) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Run begins a transaction, runs fn with transactional repositories, and
// commits on success or rolls back on error/panic. Panics are rethrown.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, accounts auth.AccountRepository, tokens auth.TokenRepository) error) (err error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // rollback on panic, panic takes precedence
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // fn error takes precedence
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = oops.Code("TX_COMMIT_FAILED").Wrap(commitErr)
		}
	}()

	err = fn(ctx, NewAccountRepository(tx), NewTokenRepository(tx))
	return err
}

// Compile-time interface check.
var _ auth.UnitOfWork = (*UnitOfWork)(nil)
