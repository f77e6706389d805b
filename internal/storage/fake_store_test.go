package storage

import (
	"context"
	"fmt"
	"sync"

	"lander/internal/records"
)

// fakeStore is an in-memory Store for tests. Items whose key appears in
// rejectKeys fail individually; batchErr fails every BatchPut call.
type fakeStore struct {
	mu sync.Mutex

	tables     map[string]string // name → key attr
	items      map[string]map[string]records.Record
	rejectKeys map[string]bool
	notReady   map[string]bool

	describeErr error
	createErr   error
	waitErr     error
	batchErr    error

	describeCalls int
	createCalls   int
	waitCalls     int
	batchSizes    []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:     map[string]string{},
		items:      map[string]map[string]records.Record{},
		rejectKeys: map[string]bool{},
		notReady:   map[string]bool{},
	}
}

func (f *fakeStore) DescribeTable(ctx context.Context, name string) (TableInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.describeErr != nil {
		return TableInfo{}, f.describeErr
	}
	key, ok := f.tables[name]
	if !ok {
		return TableInfo{}, fmt.Errorf("describe %s: %w", name, ErrTableNotFound)
	}
	return TableInfo{Name: name, KeyAttr: key, Ready: !f.notReady[name]}, nil
}

func (f *fakeStore) CreateTable(ctx context.Context, name, keyAttr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.tables[name]; ok {
		return ErrTableExists
	}
	f.tables[name] = keyAttr
	f.items[name] = map[string]records.Record{}
	return nil
}

func (f *fakeStore) WaitUntilReady(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls++
	if f.waitErr != nil {
		return f.waitErr
	}
	return ctx.Err()
}

func (f *fakeStore) BatchPut(ctx context.Context, name, keyAttr string, items []records.Record) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchSizes = append(f.batchSizes, len(items))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var errs []error
	for i, it := range items {
		k := fmt.Sprint(it[keyAttr])
		if f.rejectKeys[k] {
			if errs == nil {
				errs = make([]error, len(items))
			}
			errs[i] = fmt.Errorf("validation: item %s rejected", k)
			continue
		}
		if f.items[name] == nil {
			f.items[name] = map[string]records.Record{}
		}
		f.items[name][k] = it
	}
	return errs, nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) stored(name string) map[string]records.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]records.Record, len(f.items[name]))
	for k, v := range f.items[name] {
		out[k] = v
	}
	return out
}
