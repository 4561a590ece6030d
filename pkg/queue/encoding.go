package queue

import (
	"bytes"
	"encoding/gob"
)

// queueKeyPrefix namespaces every queue key in the shared Badger keyspace.
const queueKeyPrefix = "q:"

func entryKey(parentPath, name string) []byte {
	key := make([]byte, 0, len(queueKeyPrefix)+len(parentPath)+1+len(name))
	key = append(key, queueKeyPrefix...)
	key = append(key, parentPath...)
	key = append(key, 0)
	key = append(key, name...)
	return key
}

func prefixKey(parentPath string) []byte {
	key := make([]byte, 0, len(queueKeyPrefix)+len(parentPath)+1)
	key = append(key, queueKeyPrefix...)
	key = append(key, parentPath...)
	key = append(key, 0)
	return key
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
