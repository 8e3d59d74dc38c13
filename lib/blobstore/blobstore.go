// Package blobstore implements content-addressed storage of message bodies
// on disk: a two-level sharded directory tree under
// <root>/blobs/aa/bb/<hex>, written atomically via temp-file-then-rename the
// way outtake's lib/maildir.Deliver writes a message into "new" — adapted
// here to shard by content hash instead of delivery order, and to compress
// the payload before it ever touches disk.
package blobstore

import (
	"compress/flate"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

var ErrNotFound = model.ErrNotFound

var tmpCounter uint64

// Store is a content-addressed blob store rooted at a single directory.
type Store struct {
	root string
}

// Open creates the store's root directory tree if needed and returns a
// handle to it.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0766); err != nil {
		return nil, errors.Wrap(err, "blobstore: create root")
	}
	return &Store{root: root}, nil
}

// Hash returns the content hash of payload, the same digest Put will use as
// the blob's key.
func Hash(payload []byte) [32]byte {
	return sha256.Sum256(payload)
}

// HashString renders a hash as the hex digest stored in
// messages.body_text_hash/body_html_hash.
func HashString(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a hex digest back into a hash, the inverse of
// HashString.
func ParseHash(s string) ([32]byte, error) {
	var hash [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(hash) {
		return hash, errors.Errorf("blobstore: bad hash string %q", s)
	}
	copy(hash[:], b)
	return hash, nil
}

func (s *Store) pathFor(hash [32]byte) string {
	h := hex.EncodeToString(hash[:])
	return filepath.Join(s.root, "blobs", h[0:2], h[2:4], h)
}

// Put compresses payload and writes it under its content hash. Put is
// idempotent: writing the same payload twice leaves one file in place.
func (s *Store) Put(payload []byte) ([32]byte, error) {
	hash := Hash(payload)
	dst := s.pathFor(hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0766); err != nil {
		return hash, errors.Wrap(err, "blobstore: mkdir shard")
	}

	tmp := filepath.Join(dir, tmpName())
	f, err := os.Create(tmp)
	if err != nil {
		return hash, errors.Wrap(err, "blobstore: create temp file")
	}
	w, err := flate.NewWriter(f, flate.BestSpeed)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: new compressor")
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		f.Close()
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: compress")
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: flush compressor")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: fsync")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: close temp file")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return hash, errors.Wrap(err, "blobstore: rename into place")
	}
	return hash, nil
}

// Get decompresses and returns the payload stored under hash.
func (s *Store) Get(hash [32]byte) ([]byte, error) {
	f, err := os.Open(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "blobstore: open")
	}
	defer f.Close()
	r := flate.NewReader(f)
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "blobstore: decompress")
	}
	return data, nil
}

// GC deletes every blob file whose hash is not present in live, in a single
// pass. Safe to run concurrently with readers, since Get only ever opens
// files that already exist and GC never truncates a file in place.
func (s *Store) GC(live map[[32]byte]struct{}) (int, error) {
	removed := 0
	root := filepath.Join(s.root, "blobs")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		hash, err := hashFromPath(path)
		if err != nil {
			// Not a blob file (e.g. a stray temp file); leave it alone.
			return nil
		}
		if _, ok := live[hash]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, errors.Wrap(err, "blobstore: gc walk")
	}
	return removed, nil
}

func hashFromPath(path string) ([32]byte, error) {
	var hash [32]byte
	name := filepath.Base(path)
	b, err := hex.DecodeString(name)
	if err != nil || len(b) != len(hash) {
		return hash, fmt.Errorf("not a blob file: %s", name)
	}
	copy(hash[:], b)
	return hash, nil
}

func tmpName() string {
	return "tmp." + strconv.FormatInt(time.Now().UnixNano(), 10) + "." +
		strconv.FormatUint(atomic.AddUint64(&tmpCounter, 1), 10)
}
