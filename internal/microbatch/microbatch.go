// Package microbatch batches large insert sets over a single
// transaction, flushing every batchSize queued statements.
package microbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Insert creates batches limited by the configured batch size.
type Insert struct {
	// the transaction to send batches on
	tx pgx.Tx
	// the current batch holding queued inserts
	currBatch *pgx.Batch
	// the size we flush a batch at
	batchSize int
	// the current queued inserts
	currQueue int
	// the total number of rows queued
	total int
	// the timeout for one batch round trip
	timeout time.Duration
}

// NewInsert returns a micro batcher flushing on tx every batchSize
// queued statements.
func NewInsert(tx pgx.Tx, batchSize int, timeout time.Duration) *Insert {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Insert{
		tx:        tx,
		batchSize: batchSize,
		timeout:   timeout,
	}
}

// Queue enqueues a statement and its arguments into the current batch,
// sending the batch first if it is full.
func (b *Insert) Queue(ctx context.Context, query string, args ...interface{}) error {
	if b.currQueue == b.batchSize {
		if err := b.sendBatch(ctx); err != nil {
			return fmt.Errorf("microbatch: flush on queue: %w", err)
		}
		b.currQueue = 0
	}

	b.currQueue++
	b.total++

	if b.currBatch == nil {
		b.currBatch = &pgx.Batch{}
	}
	b.currBatch.Queue(query, args...)
	return nil
}

// Done submits any statements still queued.
//
// Done MUST be called after the last Queue for the final partial batch
// to reach the database.
func (b *Insert) Done(ctx context.Context) error {
	if b.currQueue == 0 {
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, b.timeout)
	res := b.tx.SendBatch(tctx, b.currBatch)
	defer res.Close()
	defer cancel()
	for i := 0; i < b.currQueue; i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("microbatch: exec %d: %w", i, err)
		}
	}
	return nil
}

// Total reports how many statements have been queued over the
// batcher's lifetime.
func (b *Insert) Total() int {
	return b.total
}

func (b *Insert) sendBatch(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, b.timeout)
	res := b.tx.SendBatch(tctx, b.currBatch)
	defer res.Close()
	defer cancel()
	defer func() {
		b.currBatch = nil
	}()
	for i := 0; i < b.batchSize; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
