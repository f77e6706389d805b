package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lander/internal/records"
)

// Identity columns chosen at creation time.
const (
	KeyID   = "id"
	KeyUUID = "uuid"
)

// DefaultProvisionTimeout bounds the wait for a freshly created table.
const DefaultProvisionTimeout = 5 * time.Minute

// KeyAttrFor picks the identity column for a new destination: "id" when the
// first sample row has an "id" field, "uuid" otherwise. Only the first row is
// inspected.
func KeyAttrFor(sample []records.Record) string {
	if len(sample) > 0 && sample[0].Has(KeyID) {
		return KeyID
	}
	return KeyUUID
}

// Provisioner makes sure a destination exists before it is written to.
//
// Ensure is idempotent: once a table has been ensured by this Provisioner it
// is not described or created again, and concurrent calls for the same table
// share one round of describe/create/wait.
type Provisioner struct {
	store   Store
	timeout time.Duration

	mu      sync.RWMutex
	ensured map[string]string // table → key attr

	group singleflight.Group
}

// NewProvisioner returns a Provisioner for store. A non-positive timeout
// selects DefaultProvisionTimeout.
func NewProvisioner(store Store, timeout time.Duration) *Provisioner {
	if timeout <= 0 {
		timeout = DefaultProvisionTimeout
	}
	return &Provisioner{
		store:   store,
		timeout: timeout,
		ensured: make(map[string]string),
	}
}

// Ensure returns the key attribute of table, creating the table first when
// it does not exist. Any error is fatal for this destination only.
func (p *Provisioner) Ensure(ctx context.Context, table string, sample []records.Record) (string, error) {
	if key, ok := p.cached(table); ok {
		return key, nil
	}
	v, err, _ := p.group.Do(table, func() (any, error) {
		if key, ok := p.cached(table); ok {
			return key, nil
		}
		key, err := p.ensure(ctx, table, sample)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.ensured[table] = key
		p.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Forget drops table from the ensured cache, e.g. after it was deleted
// out-of-band.
func (p *Provisioner) Forget(table string) {
	p.mu.Lock()
	delete(p.ensured, table)
	p.mu.Unlock()
}

func (p *Provisioner) cached(table string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.ensured[table]
	return key, ok
}

func (p *Provisioner) ensure(ctx context.Context, table string, sample []records.Record) (string, error) {
	info, err := p.store.DescribeTable(ctx, table)
	switch {
	case err == nil:
		key := info.KeyAttr
		if key == "" {
			key = KeyAttrFor(sample)
		}
		if !info.Ready {
			// Created by another writer and still coming up.
			log.Printf("provision: table %s exists but is not ready, waiting", table)
			if err := p.wait(ctx, table); err != nil {
				return "", err
			}
		}
		return key, nil
	case errors.Is(err, ErrTableNotFound):
		log.Printf("provision: table %s does not exist, creating", table)
	default:
		return "", fmt.Errorf("describe table %s: %w", table, err)
	}

	key := KeyAttrFor(sample)
	raced := false
	if err := p.store.CreateTable(ctx, table, key); err != nil {
		if !errors.Is(err, ErrTableExists) {
			log.Printf("provision: failed to create table %s: %v", table, err)
			return "", fmt.Errorf("create table %s: %w", table, err)
		}
		raced = true
		log.Printf("provision: table %s was created concurrently", table)
	} else {
		log.Printf("provision: created table %s key=%s", table, key)
	}

	if err := p.wait(ctx, table); err != nil {
		return "", err
	}

	if raced {
		// The other writer may have chosen a different key.
		info, err := p.store.DescribeTable(ctx, table)
		if err != nil {
			return "", fmt.Errorf("describe table %s: %w", table, err)
		}
		if info.KeyAttr != "" {
			key = info.KeyAttr
		}
	}
	return key, nil
}

// wait blocks until table is ready, for at most the provisioning timeout.
func (p *Provisioner) wait(ctx context.Context, table string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.store.WaitUntilReady(waitCtx, table); err != nil {
		log.Printf("provision: table %s not ready after %s: %v", table, p.timeout, err)
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	return nil
}
