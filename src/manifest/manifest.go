// Package manifest persists a record of every validator launched in a working
// directory, so that a network can be inspected after the harness that ran it
// has exited.
package manifest

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// DirName is the name of the manifest database inside a working directory.
const DirName = "manifest"

const recordPrefix = "node"

// Record describes a launched validator.
type Record struct {
	ID        int
	Name      string
	URL       string
	HTTPPort  int
	Port      int
	LedgerURL string
	Genesis   bool
	Status    string
}

// Marshal returns the JSON encoding of the record.
func (r *Record) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a JSON encoded record.
func (r *Record) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}

// ids are zero-padded so that records iterate in id order
func recordKey(id int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", recordPrefix, id))
}

// Store is a badger database of Records.
type Store struct {
	db   *badger.DB
	path string
}

// Open opens the manifest at path, creating it if it does not exist.
func Open(path string, logger *logrus.Entry) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:   handle,
		path: path,
	}, nil
}

// Path returns the directory of the database.
func (s *Store) Path() string {
	return s.path
}

// Put inserts or replaces the record of a validator.
func (s *Store) Put(r Record) error {
	val, err := r.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(recordKey(r.ID), val); err != nil {
		return err
	}

	return tx.Commit()
}

// Get returns the record of the validator with the given id.
func (s *Store) Get(id int) (Record, error) {
	var r Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return r.Unmarshal(data)
		})
	})

	return r, err
}

// Records returns every record, ordered by id.
func (s *Store) Records() ([]Record, error) {
	res := []Record{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			err := it.Item().Value(func(data []byte) error {
				return r.Unmarshal(data)
			})
			if err != nil {
				return err
			}
			res = append(res, r)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return res, nil
}

// Reset deletes every record. A network calls it when it takes over a working
// directory, since ids restart at 0.
func (s *Store) Reset() error {
	prefix := []byte(recordPrefix)
	keys := [][]byte{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
