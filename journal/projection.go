package journal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lymar/actionkit"
	bolt "go.etcd.io/bbolt"
)

var projectionsBucket = []byte("projections")
var versionKey = []byte("version")
var logPosKey = []byte("log_pos")
var stateKey = []byte("state")

type projectionState[S any] struct {
	state  S
	logPos uint64
}

// Project brings the stored projection called name up to date with the
// journal and returns its state. The state is kept between calls, so only
// entries appended since the last call are reduced. A different version
// discards whatever was stored and rebuilds from initial.
//
// S must be CBOR serializable.
func Project[S any](
	j *Journal,
	name string,
	version string,
	reducer actionkit.ReducerFunc[S],
	initial S,
) (S, error) {
	ps, err := loadProjection(j, name, version, initial)
	if err != nil {
		return initial, err
	}

	startPos := ps.logPos
	for e, err := range j.Entries(ps.logPos + 1) {
		if err != nil {
			return ps.state, err
		}
		ps.state = reducer(ps.state, e.Action)
		ps.logPos = e.ID
	}

	if ps.logPos == startPos {
		return ps.state, nil
	}

	slog.Debug("projection updated", "name", name, "version", version,
		"from", startPos, "to", ps.logPos)

	if err := saveProjection(j, name, version, ps); err != nil {
		return ps.state, err
	}
	return ps.state, nil
}

func loadProjection[S any](
	j *Journal,
	name string,
	version string,
	initial S,
) (*projectionState[S], error) {
	ps := &projectionState[S]{state: initial}

	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(projectionsBucket).Bucket([]byte(name))
		if bucket == nil {
			return nil
		}

		ver, err := readSystemValue[string](bucket, versionKey)
		if err != nil {
			return err
		}
		if ver == nil || *ver != version {
			old := ""
			if ver != nil {
				old = *ver
			}
			slog.Debug("projection version changed, rebuilding",
				"name", name, "old", old, "new", version)
			return nil
		}

		pLogPos, err := readSystemValue[uint64](bucket, logPosKey)
		if err != nil {
			return err
		}
		pState, err := readSystemValue[S](bucket, stateKey)
		if err != nil {
			return err
		}
		if pLogPos == nil || pState == nil {
			return nil
		}

		ps.state = *pState
		ps.logPos = *pLogPos
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load projection %q: %w", name, err)
	}
	return ps, nil
}

func saveProjection[S any](
	j *Journal,
	name string,
	version string,
	ps *projectionState[S],
) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(projectionsBucket).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		if err := writeSystemValue(bucket, versionKey, &version); err != nil {
			return err
		}
		if err := writeSystemValue(bucket, logPosKey, &ps.logPos); err != nil {
			return err
		}
		return writeSystemValue(bucket, stateKey, &ps.state)
	})
	if err != nil {
		return fmt.Errorf("save projection %q: %w", name, err)
	}
	return nil
}

// DropProjection removes a stored projection. Dropping an unknown name is
// not an error.
func (j *Journal) DropProjection(name string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(projectionsBucket).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
