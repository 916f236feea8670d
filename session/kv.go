package session

import (
	"context"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/natsclient"
)

const (
	stateBucket = "annostream_state"
	stateKey    = "process_state"
)

// KVSnapshotStore persists process state snapshots in a NATS KV bucket
type KVSnapshotStore struct {
	kv jetstream.KeyValue
}

// NewKVSnapshotStore creates (or binds to) the state bucket
func NewKVSnapshotStore(ctx context.Context, nc *natsclient.Client) (*KVSnapshotStore, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVSnapshotStore", "NewKVSnapshotStore", "nats client cannot be nil")
	}

	kv, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      stateBucket,
		Description: "Host process state snapshots",
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVSnapshotStore", "NewKVSnapshotStore", "create KV bucket")
	}

	return &KVSnapshotStore{kv: kv}, nil
}

// Save stores the snapshot
func (s *KVSnapshotStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, stateKey, data); err != nil {
		return errors.WrapTransient(err, "KVSnapshotStore", "Save", "put snapshot")
	}
	return nil
}

// Load returns the latest snapshot, or nil when none has been saved
func (s *KVSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, stateKey)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "KVSnapshotStore", "Load", "get snapshot")
	}
	return entry.Value(), nil
}
