package durable

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/slabcache/internal/wire"
)

// Codec (de)serializes a Record to the single value blob stored by key-value
// shaped backends (badger, redis). The record key is carried by the backend's
// own key, not the blob; Decode re-attaches it.
type Codec interface {
	Encode(rec Record) ([]byte, error)
	Decode(key string, blob []byte) (Record, error)
}

// Binary is the default Codec: a fixed binary envelope (see internal/wire).
// The zero value is ready to use.
type Binary struct{}

func (Binary) Encode(rec Record) ([]byte, error) {
	return wire.Encode(rec.Flags, rec.Exptime, rec.ContentHash, rec.Value), nil
}

func (Binary) Decode(key string, blob []byte) (Record, error) {
	flags, exptime, hash, value, err := wire.Decode(blob)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Record{Key: key, Flags: flags, Exptime: exptime, ContentHash: hash, Value: value}, nil
}

// blobRecord is the schema shared by the self-describing codecs.
type blobRecord struct {
	Flags   uint32 `msgpack:"f" cbor:"1,keyasint"`
	Exptime uint32 `msgpack:"e" cbor:"2,keyasint"`
	Hash    uint32 `msgpack:"h" cbor:"3,keyasint"`
	Value   []byte `msgpack:"v" cbor:"4,keyasint"`
}

// Msgpack is a Codec serializing records with vmihailenco/msgpack/v5. Use it
// when the durable blobs must be readable by non-Go consumers. The zero
// value is ready to use.
type Msgpack struct{}

func (Msgpack) Encode(rec Record) ([]byte, error) {
	return msgpack.Marshal(blobRecord{
		Flags:   rec.Flags,
		Exptime: rec.Exptime,
		Hash:    rec.ContentHash,
		Value:   rec.Value,
	})
}

func (Msgpack) Decode(key string, blob []byte) (Record, error) {
	var br blobRecord
	if err := msgpack.Unmarshal(blob, &br); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Record{Key: key, Flags: br.Flags, Exptime: br.Exptime, ContentHash: br.Hash, Value: br.Value}, nil
}

// CBOR is a Codec serializing records with fxamacker/cbor using the
// deterministic core encoding (RFC 8949). The zero value is ready to use.
type CBOR struct{}

var cborEnc, _ = cbor.CoreDetEncOptions().EncMode()

func (CBOR) Encode(rec Record) ([]byte, error) {
	return cborEnc.Marshal(blobRecord{
		Flags:   rec.Flags,
		Exptime: rec.Exptime,
		Hash:    rec.ContentHash,
		Value:   rec.Value,
	})
}

func (CBOR) Decode(key string, blob []byte) (Record, error) {
	var br blobRecord
	if err := cbor.Unmarshal(blob, &br); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Record{Key: key, Flags: br.Flags, Exptime: br.Exptime, ContentHash: br.Hash, Value: br.Value}, nil
}
