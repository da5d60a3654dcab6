// Package test provides a shared acceptance suite for httpcache.Backend
// implementations, so every storage backend package can assert the same
// contract against its own store.
package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rfc9111/httpcache"
)

func bodyEntry(body string) *httpcache.Entry {
	return &httpcache.Entry{
		Kind:     httpcache.KindResource,
		Headers:  httpcache.Headers{{Name: "Content-Type", Value: "text/plain"}},
		Resource: httpcache.NewBytesResource([]byte(body)),
	}
}

func readBody(t *testing.T, e *httpcache.Entry) string {
	t.Helper()
	if e == nil || e.Resource == nil {
		return ""
	}
	data, err := httpcache.ReadAll(context.Background(), e.Resource)
	if err != nil {
		t.Fatalf("reading resource: %v", err)
	}
	return string(data)
}

// Backend exercises an httpcache.Backend implementation against the common
// Get/Put/Remove/Update/BulkGet contract every storage package must satisfy.
func Backend(t *testing.T, store httpcache.Backend) {
	t.Helper()
	ctx := context.Background()
	key := "test-key"

	entry, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if entry != nil {
		t.Fatal("retrieved entry before adding it")
	}

	if err := store.Put(ctx, key, bodyEntry("some bytes")); err != nil {
		t.Fatalf("error putting entry: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if got == nil {
		t.Fatal("could not retrieve an entry we just added")
	}
	if body := readBody(t, got); body != "some bytes" {
		t.Fatalf("retrieved a different value than what was put in: %q", body)
	}
	if v, ok := got.Headers.Get("Content-Type"); !ok || v != "text/plain" {
		t.Fatalf("header not preserved across round trip: %q, %v", v, ok)
	}

	if err := store.Remove(ctx, key); err != nil {
		t.Fatalf("error removing entry: %v", err)
	}

	got, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if got != nil {
		t.Fatal("removed entry still present")
	}

	updateKey := "update-key"
	result, err := store.Update(ctx, updateKey, func(current *httpcache.Entry) (*httpcache.Entry, error) {
		if current != nil {
			t.Fatal("update saw a non-nil current entry for a fresh key")
		}
		return bodyEntry("created"), nil
	})
	if err != nil {
		t.Fatalf("error on create-via-update: %v", err)
	}
	if body := readBody(t, result); body != "created" {
		t.Fatalf("update did not return the entry it created: %q", body)
	}

	result, err = store.Update(ctx, updateKey, func(current *httpcache.Entry) (*httpcache.Entry, error) {
		if body := readBody(t, current); body != "created" {
			t.Fatalf("update did not see the previously stored entry, got %q", body)
		}
		return bodyEntry("updated"), nil
	})
	if err != nil {
		t.Fatalf("error on update: %v", err)
	}
	if body := readBody(t, result); body != "updated" {
		t.Fatalf("update did not return the new entry: %q", body)
	}

	result, err = store.Update(ctx, updateKey, func(current *httpcache.Entry) (*httpcache.Entry, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("error on delete-via-update: %v", err)
	}
	if result != nil {
		t.Fatal("delete-via-update should return a nil entry")
	}
	got, err = store.Get(ctx, updateKey)
	if err != nil {
		t.Fatalf("error getting key after delete-via-update: %v", err)
	}
	if got != nil {
		t.Fatal("entry still present after delete-via-update")
	}

	keys := []string{"bulk-a", "bulk-b", "bulk-c"}
	for _, k := range keys {
		if err := store.Put(ctx, k, bodyEntry(k)); err != nil {
			t.Fatalf("error putting bulk key %q: %v", k, err)
		}
	}
	found, err := store.BulkGet(ctx, append(keys, "bulk-missing"))
	if err != nil {
		t.Fatalf("error on bulk get: %v", err)
	}
	for _, k := range keys {
		e, ok := found[k]
		if !ok {
			t.Fatalf("bulk get missing expected key %q", k)
		}
		if body := readBody(t, e); body != k {
			t.Fatalf("bulk get returned wrong value for %q: %q", k, body)
		}
	}
	if _, ok := found["bulk-missing"]; ok {
		t.Fatal("bulk get returned an entry for a key that was never stored")
	}
}

// ConcurrentUpdate verifies that concurrent Update calls against the same
// key serialize correctly: every call that observes the prior value and
// increments it must be reflected, with no lost updates, whether the
// backend achieves this via native compare-and-swap or an emulated retry
// loop.
func ConcurrentUpdate(t *testing.T, store httpcache.Backend, workers int) {
	t.Helper()
	ctx := context.Background()
	key := "concurrent-counter"

	if err := store.Put(ctx, key, bodyEntry("0")); err != nil {
		t.Fatalf("seeding counter: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, key, func(current *httpcache.Entry) (*httpcache.Entry, error) {
				n := 0
				if current != nil {
					body := readBody(t, current)
					for _, c := range body {
						n = n*10 + int(c-'0')
					}
				}
				n++
				return bodyEntry(itoa(n)), nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, httpcache.ErrUpdateConflict) {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected update error: %v", err)
	}

	final, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("reading final counter: %v", err)
	}
	body := readBody(t, final)
	if body == "0" || body == "" {
		t.Fatalf("counter never advanced, final value %q", body)
	}
	if body != itoa(succeeded) {
		t.Fatalf("lost updates: %d updates succeeded but final counter is %q", succeeded, body)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
