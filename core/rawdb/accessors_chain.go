package rawdb

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var logger = log.NewNopLogger()

// SetLogger sets the logger write failures are reported to.
func SetLogger(l log.Logger) {
	logger = l
}

// ReadCanonicalHash retrieves the hash assigned to a canonical block number.
func ReadCanonicalHash(db kvdb.KeyValueReader, number uint64) common.Hash {
	data, _ := db.Get(headerHashKey(number))
	return common.BytesToHash(data)
}

// WriteCanonicalHash stores the hash assigned to a canonical block number.
func WriteCanonicalHash(db kvdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Put(headerHashKey(number), hash.Bytes()); err != nil {
		level.Error(logger).Log("msg", "Failed to store number to hash mapping", "err", err)
	}
}

// DeleteCanonicalHash removes the number to hash canonical mapping.
func DeleteCanonicalHash(db kvdb.KeyValueWriter, number uint64) {
	if err := db.Delete(headerHashKey(number)); err != nil {
		level.Error(logger).Log("msg", "Failed to delete number to hash mapping", "err", err)
	}
}

// ReadHeaderNumber returns the header number assigned to a hash.
func ReadHeaderNumber(db kvdb.KeyValueReader, hash common.Hash) *uint64 {
	data, _ := db.Get(headerNumberKey(hash))
	if len(data) != numberLength {
		return nil
	}
	number := binary.BigEndian.Uint64(data)
	return &number
}

// WriteHeaderNumber stores the hash->number mapping.
func WriteHeaderNumber(db kvdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Put(headerNumberKey(hash), encodeBlockNumber(number)); err != nil {
		level.Error(logger).Log("msg", "Failed to store hash to number mapping", "err", err)
	}
}

// ReadHeadHeaderHash retrieves the hash of the current canonical head header.
func ReadHeadHeaderHash(db kvdb.KeyValueReader) common.Hash {
	data, _ := db.Get(headHeaderKey)
	if len(data) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

// WriteHeadHeaderHash stores the hash of the current canonical head header.
func WriteHeadHeaderHash(db kvdb.KeyValueWriter, hash common.Hash) {
	if err := db.Put(headHeaderKey, hash.Bytes()); err != nil {
		level.Error(logger).Log("msg", "Failed to store last header's hash", "err", err)
	}
}

// ReadHeaderRLP retrieves a block header in its raw RLP database encoding.
func ReadHeaderRLP(db kvdb.KeyValueReader, hash common.Hash, number uint64) rlp.RawValue {
	data, _ := db.Get(headerKey(number, hash))
	return data
}

// HasHeader verifies the existence of a block header corresponding to the hash.
func HasHeader(db kvdb.KeyValueReader, hash common.Hash, number uint64) bool {
	has, err := db.Has(headerKey(number, hash))
	return err == nil && has
}

// ReadHeader retrieves the block header corresponding to the hash.
func ReadHeader(db kvdb.KeyValueReader, hash common.Hash, number uint64) *types.Header {
	data := ReadHeaderRLP(db, hash, number)
	if len(data) == 0 {
		return nil
	}
	header := new(types.Header)
	if err := rlp.Decode(bytes.NewReader(data), header); err != nil {
		level.Error(logger).Log("msg", "Invalid block header RLP", "hash", hash, "err", err)
		return nil
	}
	return header
}

// WriteHeader stores a block header into the database and also stores the hash-
// to-number mapping.
func WriteHeader(db kvdb.KeyValueWriter, header *types.SealedHeader) {
	var (
		hash   = header.Hash()
		number = header.Number()
	)
	WriteHeaderNumber(db, hash, number)

	data, err := rlp.EncodeToBytes(header.Header())
	if err != nil {
		level.Error(logger).Log("msg", "Failed to RLP encode header", "err", err)
		return
	}
	if err := db.Put(headerKey(number, hash), data); err != nil {
		level.Error(logger).Log("msg", "Failed to store header", "err", err)
	}
}

// DeleteHeader removes all block header data associated with a hash.
func DeleteHeader(db kvdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Delete(headerKey(number, hash)); err != nil {
		level.Error(logger).Log("msg", "Failed to delete header", "err", err)
	}
	if err := db.Delete(headerNumberKey(hash)); err != nil {
		level.Error(logger).Log("msg", "Failed to delete hash to number mapping", "err", err)
	}
	DeleteTd(db, hash, number)
}

// ReadTd retrieves the total difficulty of the chain ending at the header
// with the given hash and number.
func ReadTd(db kvdb.KeyValueReader, hash common.Hash, number uint64) *big.Int {
	data, _ := db.Get(headerTDKey(number, hash))
	if len(data) == 0 {
		return nil
	}
	td := new(big.Int)
	if err := rlp.DecodeBytes(data, td); err != nil {
		level.Error(logger).Log("msg", "Invalid total difficulty RLP", "hash", hash, "err", err)
		return nil
	}
	return td
}

// WriteTd stores the total difficulty of the chain ending at a header.
func WriteTd(db kvdb.KeyValueWriter, hash common.Hash, number uint64, td *big.Int) {
	data, err := rlp.EncodeToBytes(td)
	if err != nil {
		level.Error(logger).Log("msg", "Failed to RLP encode total difficulty", "err", err)
		return
	}
	if err := db.Put(headerTDKey(number, hash), data); err != nil {
		level.Error(logger).Log("msg", "Failed to store total difficulty", "err", err)
	}
}

func DeleteTd(db kvdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Delete(headerTDKey(number, hash)); err != nil {
		level.Error(logger).Log("msg", "Failed to delete total difficulty", "err", err)
	}
}

// ReadCanonicalHeader retrieves the canonical header at number, sealed with
// its stored hash.
func ReadCanonicalHeader(db kvdb.KeyValueReader, number uint64) *types.SealedHeader {
	hash := ReadCanonicalHash(db, number)
	if hash == (common.Hash{}) {
		return nil
	}
	header := ReadHeader(db, hash, number)
	if header == nil {
		return nil
	}
	return types.NewSealedHeader(header, hash)
}
