package journal

import (
	"encoding/binary"

	"github.com/lymar/actionkit"
	bolt "go.etcd.io/bbolt"
)

func readSystemValue[V any](bucket *bolt.Bucket, key []byte) (*V, error) {
	rawData := bucket.Get(key)
	if rawData == nil {
		return nil, nil
	}
	var data *V
	if err := actionkit.CBORUnmarshal(rawData, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeSystemValue[V any](bucket *bolt.Bucket, key []byte, value *V) error {
	bin, err := actionkit.CBORMarshal(value)
	if err != nil {
		return err
	}
	return bucket.Put(key, bin)
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}
