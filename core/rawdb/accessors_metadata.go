package rawdb

import (
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/go-kit/log/level"
)

// ReadDatabaseVersion retrieves the version number of the database.
func ReadDatabaseVersion(db kvdb.KeyValueReader) *uint64 {
	var version uint64

	enc, _ := db.Get(databaseVersionKey)
	if len(enc) == 0 {
		return nil
	}
	if err := rlp.DecodeBytes(enc, &version); err != nil {
		return nil
	}
	return &version
}

// WriteDatabaseVersion stores the version number of the database
func WriteDatabaseVersion(db kvdb.KeyValueWriter, version uint64) {
	enc, err := rlp.EncodeToBytes(version)
	if err != nil {
		level.Error(logger).Log("msg", "Failed to encode database version", "err", err)
		return
	}
	if err = db.Put(databaseVersionKey, enc); err != nil {
		level.Error(logger).Log("msg", "Failed to store the database version", "err", err)
	}
}
