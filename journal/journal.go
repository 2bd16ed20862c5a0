// Package journal records dispatched actions in a bbolt database so they can
// be replayed through a reducer later, for debugging or to rebuild state.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-softwarelab/common/pkg/types"
	"github.com/google/uuid"
	"github.com/lymar/actionkit"
	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// - bucket: entriesBucket - "entries"
// 		- <entry id> -> <serialized record>
// - bucket: projectionsBucket - "projections"
// 		- bucket: <projection name>
// 			- versionKey -> <version>
// 			- logPosKey -> <last applied entry id>
// 			- stateKey -> <serialized state>

var ErrJournalExists = errors.New("journal: database file already exists")

type Journal struct {
	db       *bolt.DB
	codec    *actionkit.Codec
	cfg      config
	session  string
	mu       sync.Mutex
	latestID uint64
	appended *emitter
	ctx      context.Context
	cancel   context.CancelFunc
}

type record struct {
	Session   string          `cbor:"1,keyasint"`
	Timestamp int64           `cbor:"2,keyasint"`
	Action    cbor.RawMessage `cbor:"3,keyasint"`
}

// Entry is one journaled action.
type Entry struct {
	ID        uint64
	Session   string
	Timestamp int64
	Action    actionkit.Action
}

func (e *Entry) ReadTimestamp() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMicro(e.Timestamp)
}

// Open opens (creating if needed) the journal at path. Actions are encoded
// and decoded with codec, so every journaled type must be registered there.
func Open(path string, codec *actionkit.Codec, opts ...Option) (*Journal, error) {
	cfg := parseConfig(opts)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: cfg.lockTimeout})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		db:       db,
		codec:    codec,
		cfg:      cfg,
		session:  uuid.Must(uuid.NewV7()).String(),
		appended: newEmitter(cfg.subscriberBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := j.init(); err != nil {
		cancel()
		db.Close()
		return nil, err
	}

	slog.Debug("journal opened", "path", path, "session", j.session,
		"latest_id", j.latestID)

	return j, nil
}

func (j *Journal) init() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		entries, err := tx.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(projectionsBucket); err != nil {
			return err
		}

		latestK, _ := entries.Cursor().Last()
		if latestK != nil {
			j.latestID = binary.BigEndian.Uint64(latestK)
		} else {
			j.latestID = 0
		}

		return nil
	})
}

// Close ends all subscriptions and closes the database.
func (j *Journal) Close() error {
	j.cancel()
	return j.db.Close()
}

func (j *Journal) Session() string {
	return j.session
}

func (j *Journal) LatestID() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latestID
}

// Append writes actions in a single transaction and returns the ID of the
// last one. IDs are sequential and start at 1.
func (j *Journal) Append(actions ...actionkit.Action) (uint64, error) {
	if len(actions) == 0 {
		return j.LatestID(), nil
	}

	now := time.Now().UnixMicro()
	raws := make([][]byte, 0, len(actions))
	for _, a := range actions {
		rawAction, err := j.codec.Encode(a)
		if err != nil {
			return 0, err
		}
		raw, err := actionkit.CBORMarshal(&record{
			Session:   j.session,
			Timestamp: now,
			Action:    rawAction,
		})
		if err != nil {
			return 0, err
		}
		raws = append(raws, raw)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	latest := j.latestID
	if err := j.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		for _, raw := range raws {
			latest++
			if err := entries.Put(idKey(latest), raw); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("append to journal: %w", err)
	}

	j.latestID = latest
	j.appended.emit(latest)

	return latest, nil
}

func (j *Journal) readBatch(fromID uint64) ([]types.Pair[uint64, []byte], error) {
	var batch []types.Pair[uint64, []byte]
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		for k, v := c.Seek(idKey(fromID)); k != nil; k, v = c.Next() {
			batch = append(batch, types.Pair[uint64, []byte]{
				Left:  binary.BigEndian.Uint64(k),
				Right: append([]byte(nil), v...),
			})
			if len(batch) >= j.cfg.readBatch {
				break
			}
		}
		return nil
	})
	return batch, err
}

func (j *Journal) decodeEntry(id uint64, raw []byte) (*Entry, error) {
	var rec record
	if err := actionkit.CBORUnmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode entry %d: %w", id, err)
	}
	a, err := j.codec.Decode(rec.Action)
	if err != nil {
		return nil, fmt.Errorf("decode entry %d: %w", id, err)
	}
	return &Entry{
		ID:        id,
		Session:   rec.Session,
		Timestamp: rec.Timestamp,
		Action:    a,
	}, nil
}

// Entries yields journaled entries with ID >= fromID in ID order. The first
// error is yielded with a nil entry and ends the sequence. Entries are read
// in batches, so the caller may append while iterating.
func (j *Journal) Entries(fromID uint64) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		next := max(fromID, 1)
		for {
			batch, err := j.readBatch(next)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, p := range batch {
				e, err := j.decodeEntry(p.Left, p.Right)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(e, nil) {
					return
				}
				next = p.Left + 1
			}
		}
	}
}

// Subscribe returns a channel receiving the latest entry ID after every
// Append. It is closed when ctx is done or the journal is closed.
func (j *Journal) Subscribe(ctx context.Context) <-chan uint64 {
	subCtx, stop := context.WithCancel(j.ctx)
	context.AfterFunc(ctx, stop)
	return j.appended.subscribe(subCtx)
}

// Replay folds every journaled action through reducer, starting at initial.
func Replay[S any](j *Journal, reducer actionkit.ReducerFunc[S], initial S) (S, error) {
	state := initial
	for e, err := range j.Entries(1) {
		if err != nil {
			return state, err
		}
		state = reducer(state, e.Action)
	}
	return state, nil
}
