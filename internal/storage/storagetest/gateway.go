// Package storagetest provides a recording in-memory storage.Gateway.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/keithlinneman/s3deploy/internal/storage"
)

// Gateway records every Put and serves List from Objects.
// The zero value is ready to use.
type Gateway struct {
	mu sync.Mutex

	// Objects is returned by List, keyed by bucket.
	Objects map[string][]storage.Object
	// ListErr, when set, is returned by List.
	ListErr error
	// ErrorFunc injects Put failures. Nil means every Put succeeds.
	ErrorFunc func(in storage.PutInput) error

	Puts  []Put
	Lists []string
}

// Put is one recorded upload attempt.
type Put struct {
	Input   storage.PutInput
	Content []byte
	Err     error
}

var _ storage.Gateway = (*Gateway)(nil)

func New() *Gateway { return &Gateway{} }

func (g *Gateway) List(_ context.Context, bucket string) ([]storage.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Lists = append(g.Lists, bucket)
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	out := append([]storage.Object(nil), g.Objects[bucket]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *Gateway) Put(_ context.Context, in storage.PutInput) (storage.PutOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var content []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return storage.PutOutput{}, fmt.Errorf("storagetest: read body: %w", err)
		}
		content = b
	}
	in.Body = nil

	rec := Put{Input: in, Content: content}
	if g.ErrorFunc != nil {
		rec.Err = g.ErrorFunc(in)
	}
	g.Puts = append(g.Puts, rec)
	if rec.Err != nil {
		return storage.PutOutput{}, rec.Err
	}

	if g.Objects == nil {
		g.Objects = make(map[string][]storage.Object)
	}
	etag := fmt.Sprintf("%q", fmt.Sprintf("etag-%d", len(g.Puts)))
	g.Objects[in.Bucket] = append(g.Objects[in.Bucket], storage.Object{
		Key:  in.Key,
		Size: int64(len(content)),
		ETag: etag,
	})
	return storage.PutOutput{
		ETag:     etag,
		Location: fmt.Sprintf("https://%s.s3.amazonaws.com/%s", in.Bucket, in.Key),
	}, nil
}

// Keys returns the keys of all Put attempts in call order, failed ones included.
func (g *Gateway) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.Puts))
	for _, p := range g.Puts {
		keys = append(keys, p.Input.Key)
	}
	return keys
}

// PutByKey returns the first recorded attempt for key.
func (g *Gateway) PutByKey(key string) (Put, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.Puts {
		if p.Input.Key == key {
			return p, true
		}
	}
	return Put{}, false
}

// ErrorOnKey fails uploads to key with err.
func ErrorOnKey(key string, err error) func(storage.PutInput) error {
	return func(in storage.PutInput) error {
		if in.Key == key {
			return err
		}
		return nil
	}
}

// ErrorOnAttempt fails the nth upload (1-indexed).
func ErrorOnAttempt(n int, err error) func(storage.PutInput) error {
	var mu sync.Mutex
	count := 0
	return func(storage.PutInput) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == n {
			return err
		}
		return nil
	}
}

func ErrorAlways(err error) func(storage.PutInput) error {
	return func(storage.PutInput) error { return err }
}
