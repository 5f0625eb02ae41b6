package types

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// txJSON is the JSON representation of transactions.
type txJSON struct {
	Type hexutil.Uint64 `json:"type"`

	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce"`
	To                   *common.Address `json:"to"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Input                *hexutil.Bytes  `json:"input"`
	AccessList           *AccessList     `json:"accessList,omitempty"`
	V                    *hexutil.Big    `json:"v"`
	R                    *hexutil.Big    `json:"r"`
	S                    *hexutil.Big    `json:"s"`

	// Only used for encoding:
	Hash common.Hash `json:"hash"`
}

// MarshalJSON marshals as JSON with a hash.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	var enc txJSON
	// These are set for all tx types.
	enc.Hash = tx.Hash()
	enc.Type = hexutil.Uint64(tx.Type())

	switch itx := tx.inner.(type) {
	case *LegacyTx:
		enc.Nonce = (*hexutil.Uint64)(&itx.Nonce)
		enc.To = tx.To()
		enc.Gas = (*hexutil.Uint64)(&itx.Gas)
		enc.GasPrice = (*hexutil.Big)(itx.GasPrice)
		enc.Value = (*hexutil.Big)(itx.Value)
		enc.Input = (*hexutil.Bytes)(&itx.Data)
		enc.V = (*hexutil.Big)(itx.V)
		enc.R = (*hexutil.Big)(itx.R)
		enc.S = (*hexutil.Big)(itx.S)
		if tx.Protected() {
			enc.ChainID = (*hexutil.Big)(tx.ChainId())
		}

	case *AccessListTx:
		enc.ChainID = (*hexutil.Big)(itx.ChainID)
		enc.Nonce = (*hexutil.Uint64)(&itx.Nonce)
		enc.To = tx.To()
		enc.Gas = (*hexutil.Uint64)(&itx.Gas)
		enc.GasPrice = (*hexutil.Big)(itx.GasPrice)
		enc.Value = (*hexutil.Big)(itx.Value)
		enc.Input = (*hexutil.Bytes)(&itx.Data)
		enc.AccessList = &itx.AccessList
		enc.V = (*hexutil.Big)(itx.V)
		enc.R = (*hexutil.Big)(itx.R)
		enc.S = (*hexutil.Big)(itx.S)

	case *DynamicFeeTx:
		enc.ChainID = (*hexutil.Big)(itx.ChainID)
		enc.Nonce = (*hexutil.Uint64)(&itx.Nonce)
		enc.To = tx.To()
		enc.Gas = (*hexutil.Uint64)(&itx.Gas)
		enc.MaxFeePerGas = (*hexutil.Big)(itx.GasFeeCap)
		enc.MaxPriorityFeePerGas = (*hexutil.Big)(itx.GasTipCap)
		enc.Value = (*hexutil.Big)(itx.Value)
		enc.Input = (*hexutil.Bytes)(&itx.Data)
		enc.AccessList = &itx.AccessList
		enc.V = (*hexutil.Big)(itx.V)
		enc.R = (*hexutil.Big)(itx.R)
		enc.S = (*hexutil.Big)(itx.S)
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON unmarshals from JSON. Only the fields required to rebuild the
// signed transaction are read; the hash is recomputed.
func (tx *Transaction) UnmarshalJSON(input []byte) error {
	var dec txJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	if dec.Nonce == nil || dec.Gas == nil || dec.Value == nil || dec.Input == nil {
		return errors.New("missing required field in transaction")
	}
	if dec.V == nil || dec.R == nil || dec.S == nil {
		return errors.New("missing signature values in transaction")
	}

	var inner TxData
	switch dec.Type {
	case LegacyTxType:
		if dec.GasPrice == nil {
			return errors.New("missing required field 'gasPrice' in transaction")
		}
		inner = &LegacyTx{
			Nonce:    uint64(*dec.Nonce),
			GasPrice: (*big.Int)(dec.GasPrice),
			Gas:      uint64(*dec.Gas),
			To:       dec.To,
			Value:    (*big.Int)(dec.Value),
			Data:     *dec.Input,
			V:        (*big.Int)(dec.V),
			R:        (*big.Int)(dec.R),
			S:        (*big.Int)(dec.S),
		}

	case AccessListTxType:
		if dec.ChainID == nil || dec.GasPrice == nil {
			return errors.New("missing required field 'chainId' or 'gasPrice' in transaction")
		}
		itx := &AccessListTx{
			ChainID:  (*big.Int)(dec.ChainID),
			Nonce:    uint64(*dec.Nonce),
			GasPrice: (*big.Int)(dec.GasPrice),
			Gas:      uint64(*dec.Gas),
			To:       dec.To,
			Value:    (*big.Int)(dec.Value),
			Data:     *dec.Input,
			V:        (*big.Int)(dec.V),
			R:        (*big.Int)(dec.R),
			S:        (*big.Int)(dec.S),
		}
		if dec.AccessList != nil {
			itx.AccessList = *dec.AccessList
		}
		inner = itx

	case DynamicFeeTxType:
		if dec.ChainID == nil || dec.MaxFeePerGas == nil || dec.MaxPriorityFeePerGas == nil {
			return errors.New("missing fee fields in dynamic fee transaction")
		}
		itx := &DynamicFeeTx{
			ChainID:   (*big.Int)(dec.ChainID),
			Nonce:     uint64(*dec.Nonce),
			GasTipCap: (*big.Int)(dec.MaxPriorityFeePerGas),
			GasFeeCap: (*big.Int)(dec.MaxFeePerGas),
			Gas:       uint64(*dec.Gas),
			To:        dec.To,
			Value:     (*big.Int)(dec.Value),
			Data:      *dec.Input,
			V:         (*big.Int)(dec.V),
			R:         (*big.Int)(dec.R),
			S:         (*big.Int)(dec.S),
		}
		if dec.AccessList != nil {
			itx.AccessList = *dec.AccessList
		}
		inner = itx

	default:
		return ErrTxTypeNotSupported
	}

	tx.setDecoded(inner, 0)
	return nil
}
