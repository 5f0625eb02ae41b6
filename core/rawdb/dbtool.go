package rawdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/OCAX-labs/headersync/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var ErrUnknownTable = errors.New("unknown table")

// Table is a logical slice of the key space, told apart by key prefix and
// key length.
type Table int

const (
	Headers Table = iota
	CanonicalHashes
	HeaderNumbers
	TotalDifficulties
	Metadata
)

// Tables lists every table in key order of their prefixes.
var Tables = []Table{Headers, CanonicalHashes, HeaderNumbers, TotalDifficulties, Metadata}

func (t Table) String() string {
	switch t {
	case Headers:
		return "Headers"
	case CanonicalHashes:
		return "CanonicalHashes"
	case HeaderNumbers:
		return "HeaderNumbers"
	case TotalDifficulties:
		return "TotalDifficulties"
	case Metadata:
		return "Metadata"
	default:
		return fmt.Sprintf("Table(%d)", int(t))
	}
}

// ParseTable resolves a table by name, ignoring case.
func ParseTable(name string) (Table, error) {
	for _, t := range Tables {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

func (t Table) prefix() []byte {
	switch t {
	case Headers, CanonicalHashes, TotalDifficulties:
		return headerPrefix
	case HeaderNumbers:
		return headerNumberPrefix
	}
	return nil
}

// contains reports whether key belongs to the table.
func (t Table) contains(key []byte) bool {
	return tableOf(key) == t
}

func tableOf(key []byte) Table {
	switch {
	case len(key) == headerKeyLength && bytes.HasPrefix(key, headerPrefix):
		return Headers
	case len(key) == headerTDKeyLength && bytes.HasPrefix(key, headerPrefix) && bytes.HasSuffix(key, headerTDSuffix):
		return TotalDifficulties
	case len(key) == headerHashKeyLength && bytes.HasPrefix(key, headerPrefix) && bytes.HasSuffix(key, headerHashSuffix):
		return CanonicalHashes
	case len(key) == headerNumberKeyLength && bytes.HasPrefix(key, headerNumberPrefix):
		return HeaderNumbers
	default:
		return Metadata
	}
}

// Entry is a raw key/value pair read from a table.
type Entry struct {
	Key   []byte
	Value []byte
}

// DbTool inspects and maintains the node database offline.
type DbTool struct {
	db     kvdb.Database
	logger log.Logger
}

func NewDbTool(db kvdb.Database, logger log.Logger) *DbTool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &DbTool{db: db, logger: logger}
}

// List returns up to limit entries of table after skipping the first skip.
// With reverse set the walk starts at the highest key. A limit of zero
// means no limit.
func (t *DbTool) List(table Table, skip, limit int, reverse bool) ([]Entry, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if reverse {
		all, err := t.scan(table, 0, 0)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
		return window(all, skip, limit), nil
	}
	return t.scan(table, skip, limit)
}

func (t *DbTool) scan(table Table, skip, limit int) ([]Entry, error) {
	it := t.db.NewIterator(table.prefix(), nil)
	defer it.Release()

	var entries []Entry
	for it.Next() {
		if !table.contains(it.Key()) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		entries = append(entries, Entry{
			Key:   common.CopyBytes(it.Key()),
			Value: common.CopyBytes(it.Value()),
		})
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, it.Error()
}

func window(entries []Entry, skip, limit int) []Entry {
	if skip >= len(entries) {
		return nil
	}
	entries = entries[skip:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// Get reads a single raw value. The key must belong to table.
func (t *DbTool) Get(table Table, key []byte) ([]byte, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if !table.contains(key) {
		return nil, fmt.Errorf("key %x is not in table %s", key, table)
	}
	return t.db.Get(key)
}

// DropTable deletes every entry of table and returns how many were removed.
func (t *DbTool) DropTable(table Table) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	it := t.db.NewIterator(table.prefix(), nil)
	defer it.Release()

	batch := t.db.NewBatch()
	deleted := 0
	for it.Next() {
		if !table.contains(it.Key()) {
			continue
		}
		if err := batch.Delete(common.CopyBytes(it.Key())); err != nil {
			return 0, err
		}
		deleted++
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	level.Info(t.logger).Log("msg", "dropped table", "table", table, "entries", deleted)
	return deleted, nil
}

// Drop closes the database and removes the directory at path.
func (t *DbTool) Drop(path string) error {
	if err := t.db.Close(); err != nil {
		return err
	}
	if err := utils.DeleteDirectoryIfExists(path); err != nil {
		return err
	}
	level.Info(t.logger).Log("msg", "dropped database", "path", path)
	return nil
}

// DecodeValue turns a raw table value into its typed form.
func DecodeValue(table Table, value []byte) (interface{}, error) {
	switch table {
	case Headers:
		header := new(types.Header)
		if err := rlp.DecodeBytes(value, header); err != nil {
			return nil, err
		}
		return header, nil
	case CanonicalHashes:
		if len(value) != common.HashLength {
			return nil, fmt.Errorf("invalid hash length %d", len(value))
		}
		return common.BytesToHash(value), nil
	case HeaderNumbers:
		if len(value) != numberLength {
			return nil, fmt.Errorf("invalid number length %d", len(value))
		}
		return binary.BigEndian.Uint64(value), nil
	case TotalDifficulties:
		td := new(big.Int)
		if err := rlp.DecodeBytes(value, td); err != nil {
			return nil, err
		}
		return (*hexutil.Big)(td), nil
	case Metadata:
		return hexutil.Bytes(value), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
}

func checkTable(table Table) error {
	if table < Headers || table > Metadata {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}
