package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/DataDog/zstd"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-softwarelab/common/pkg/seq"
	bolt "go.etcd.io/bbolt"
)

type backupEntry struct {
	ID   uint64 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

type backupProjection struct {
	Name    string `cbor:"1,keyasint"`
	Version []byte `cbor:"2,keyasint"`
	LogPos  []byte `cbor:"3,keyasint"`
	State   []byte `cbor:"4,keyasint"`
}

type backupItem struct {
	Entry      *backupEntry      `cbor:"1,keyasint,omitempty"`
	Projection *backupProjection `cbor:"2,keyasint,omitempty"`
}

// check the context every checkEvery items
const checkEvery = 1000

func writeBackup(
	ctx context.Context,
	writer io.Writer,
	zstdCompressionLevel int,
	items iter.Seq[backupItem],
) error {
	w := zstd.NewWriterLevel(writer, zstdCompressionLevel)

	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		w.Close()
		return err
	}
	encoder := em.NewEncoder(w)
	n := 0
	for i := range items {
		n++
		if n%checkEvery == 0 {
			select {
			case <-ctx.Done():
				w.Close()
				return ctx.Err()
			default:
			}
		}
		if err := encoder.Encode(i); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func loadBackup(reader io.Reader) iter.Seq2[backupItem, error] {
	return func(yield func(backupItem, error) bool) {
		r := zstd.NewReader(reader)
		defer r.Close()

		dec, err := cbor.DecOptions{}.DecMode()
		if err != nil {
			yield(backupItem{}, err)
			return
		}
		decoder := dec.NewDecoder(r)

		for {
			var item backupItem
			err := decoder.Decode(&item)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(backupItem{}, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// BackupTo writes every entry followed by every stored projection to w as a
// zstd compressed CBOR stream.
func (j *Journal) BackupTo(
	ctx context.Context,
	zstdCompressionLevel int,
	w io.Writer,
) error {
	return j.db.View(func(tx *bolt.Tx) error {
		return backupTo(tx, ctx, zstdCompressionLevel, w)
	})
}

func backupTo(
	tx *bolt.Tx,
	ctx context.Context,
	zstdCompressionLevel int,
	w io.Writer,
) error {
	var entriesSeq iter.Seq[backupItem] = func(yield func(backupItem) bool) {
		c := tx.Bucket(entriesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !yield(backupItem{
				Entry: &backupEntry{
					ID:   binary.BigEndian.Uint64(k),
					Data: v,
				},
			}) {
				break
			}
		}
	}

	var projectionsSeq iter.Seq[backupItem] = func(yield func(backupItem) bool) {
		projections := tx.Bucket(projectionsBucket)
		c := projections.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v != nil {
				continue
			}
			bucket := projections.Bucket(name)
			if !yield(backupItem{
				Projection: &backupProjection{
					Name:    string(name),
					Version: bucket.Get(versionKey),
					LogPos:  bucket.Get(logPosKey),
					State:   bucket.Get(stateKey),
				},
			}) {
				break
			}
		}
	}

	return writeBackup(ctx, w, zstdCompressionLevel, seq.Concat(entriesSeq, projectionsSeq))
}

// Restore creates a new journal database at path from a backup written by
// BackupTo. It refuses to touch an existing file and removes the file it
// created when the backup cannot be loaded.
func Restore(
	ctx context.Context,
	path string,
	r io.Reader,
) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrJournalExists, path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return err
	}

	if err := restoreInto(ctx, db, r); err != nil {
		_ = db.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("failed to remove partial restore", "path", path, "error", rmErr)
		}
		return err
	}
	return db.Close()
}

func restoreInto(ctx context.Context, db *bolt.DB, r io.Reader) error {
	return db.Update(func(tx *bolt.Tx) error {
		entries, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}

		projections, err := tx.CreateBucket(projectionsBucket)
		if err != nil {
			return err
		}

		n := 0
		for item, err := range loadBackup(r) {
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			n++
			if n%checkEvery == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			if item.Entry != nil {
				if err := entries.Put(idKey(item.Entry.ID), item.Entry.Data); err != nil {
					return err
				}
			} else if p := item.Projection; p != nil {
				if err := restoreProjection(projections, p); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func restoreProjection(projections *bolt.Bucket, p *backupProjection) error {
	bucket, err := projections.CreateBucket([]byte(p.Name))
	if err != nil {
		return err
	}
	for k, v := range map[string][]byte{
		string(versionKey): p.Version,
		string(logPosKey):  p.LogPos,
		string(stateKey):   p.State,
	} {
		if v == nil {
			continue
		}
		if err := bucket.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
