package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// EmptyRootHash is the known root hash of an empty trie.
	EmptyRootHash = common.HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

	// EmptyUncleHash is the known hash of the empty uncle set.
	EmptyUncleHash = rlpHash([]*Header(nil))

	// EmptyTxsHash is the known hash of the empty transaction set.
	EmptyTxsHash = EmptyRootHash
)

const (
	BloomByteLength = 256
	NonceLength     = 8
)

// Bloom represents a 2048 bit bloom filter.
type Bloom [BloomByteLength]byte

// BlockNonce is a 64-bit hash which proves (combined with the mix-hash) that a
// sufficient amount of computation has been carried out on a block.
type BlockNonce [NonceLength]byte

// EncodeNonce converts the given integer to a block nonce.
func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	binary.BigEndian.PutUint64(n[:], i)
	return n
}

// Uint64 returns the integer value of a block nonce.
func (n BlockNonce) Uint64() uint64 {
	return binary.BigEndian.Uint64(n[:])
}

// Header represents a block header in the Ethereum blockchain.
type Header struct {
	ParentHash  common.Hash    `json:"parentHash"`
	UncleHash   common.Hash    `json:"sha3Uncles"`
	Coinbase    common.Address `json:"miner"`
	Root        common.Hash    `json:"stateRoot"`
	TxHash      common.Hash    `json:"transactionsRoot"`
	ReceiptHash common.Hash    `json:"receiptsRoot"`
	Bloom       Bloom          `json:"logsBloom"`
	Difficulty  *big.Int       `json:"difficulty"`
	Number      uint64         `json:"number"`
	GasLimit    uint64         `json:"gasLimit"`
	GasUsed     uint64         `json:"gasUsed"`
	Time        uint64         `json:"timestamp"`
	Extra       []byte         `json:"extraData"`
	MixDigest   common.Hash    `json:"mixHash"`
	Nonce       BlockNonce     `json:"nonce"`

	// BaseFee was added by EIP-1559 and is ignored in legacy headers.
	BaseFee *big.Int `json:"baseFeePerGas" rlp:"optional"`

	// WithdrawalsHash was added by EIP-4895 and is ignored in legacy headers.
	WithdrawalsHash *common.Hash `json:"withdrawalsRoot" rlp:"optional"`
}

// Hash returns the block hash of the header, which is simply the keccak256 hash of its
// RLP encoding.
func (h *Header) Hash() common.Hash {
	return rlpHash(h)
}

var headerSize = common.StorageSize(reflect.TypeOf(Header{}).Size())

// Size returns the approximate memory used by all internal contents. It is used
// to approximate and limit the memory consumption of various caches.
func (h *Header) Size() common.StorageSize {
	var baseFeeBits int
	if h.BaseFee != nil {
		baseFeeBits = h.BaseFee.BitLen()
	}
	var difficultyBits int
	if h.Difficulty != nil {
		difficultyBits = h.Difficulty.BitLen()
	}
	return headerSize + common.StorageSize(len(h.Extra)+(difficultyBits+baseFeeBits)/8)
}

// EmptyBody returns true if there is no additional 'body' to complete the header
// that is: no transactions and no uncles.
func (h *Header) EmptyBody() bool {
	return h.TxHash == EmptyTxsHash && h.UncleHash == EmptyUncleHash
}

// Seal hashes a copy of the header and returns it with the hash attached.
func (h *Header) Seal() *SealedHeader {
	cpy := CopyHeader(h)
	return &SealedHeader{header: cpy, hash: cpy.Hash()}
}

// CopyHeader creates a deep copy of a block header.
func CopyHeader(h *Header) *Header {
	cpy := *h
	if cpy.Difficulty = new(big.Int); h.Difficulty != nil {
		cpy.Difficulty.Set(h.Difficulty)
	}
	if h.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	if len(h.Extra) > 0 {
		cpy.Extra = make([]byte, len(h.Extra))
		copy(cpy.Extra, h.Extra)
	}
	if h.WithdrawalsHash != nil {
		cpy.WithdrawalsHash = new(common.Hash)
		*cpy.WithdrawalsHash = *h.WithdrawalsHash
	}
	return &cpy
}

// SealedHeader is a header together with its hash. The hash is computed once
// when the header is sealed and the header can not be changed afterwards.
type SealedHeader struct {
	header *Header
	hash   common.Hash
}

// NewSealedHeader attaches a hash that is already known to be the hash of h,
// for example because it was used as the database key h was read under.
func NewSealedHeader(h *Header, hash common.Hash) *SealedHeader {
	return &SealedHeader{header: h, hash: hash}
}

// Header returns the sealed header. It must not be modified.
func (s *SealedHeader) Header() *Header { return s.header }

func (s *SealedHeader) Hash() common.Hash       { return s.hash }
func (s *SealedHeader) Number() uint64          { return s.header.Number }
func (s *SealedHeader) ParentHash() common.Hash { return s.header.ParentHash }
func (s *SealedHeader) Time() uint64            { return s.header.Time }

// NumHash returns the number and hash pair identifying the header.
func (s *SealedHeader) NumHash() NumHash {
	return NumHash{Number: s.header.Number, Hash: s.hash}
}

// Unseal returns a copy of the inner header.
func (s *SealedHeader) Unseal() *Header {
	return CopyHeader(s.header)
}

func (s *SealedHeader) String() string {
	return fmt.Sprintf("#%d [%x…]", s.header.Number, s.hash[:4])
}

// SealHeaders seals every header of a peer response.
func SealHeaders(headers []*Header) []*SealedHeader {
	sealed := make([]*SealedHeader, len(headers))
	for i, h := range headers {
		sealed[i] = h.Seal()
	}
	return sealed
}

// NumHash is a block number together with the block hash.
type NumHash struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

var errHashAndNumber = errors.New("both origin hash and number provided")

// BlockHashOrNumber identifies a block either by its hash or by its number.
// A non-zero Hash takes precedence over Number.
type BlockHashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// HashID identifies a block by hash.
func HashID(hash common.Hash) BlockHashOrNumber { return BlockHashOrNumber{Hash: hash} }

// NumberID identifies a block by number.
func NumberID(number uint64) BlockHashOrNumber { return BlockHashOrNumber{Number: number} }

// IsHash reports whether the block is identified by hash.
func (hn BlockHashOrNumber) IsHash() bool {
	return hn.Hash != (common.Hash{})
}

// Matches reports whether the sealed header is the block hn identifies.
func (hn BlockHashOrNumber) Matches(h *SealedHeader) bool {
	if hn.IsHash() {
		return h.Hash() == hn.Hash
	}
	return h.Number() == hn.Number
}

func (hn BlockHashOrNumber) String() string {
	if hn.IsHash() {
		return hn.Hash.Hex()
	}
	return fmt.Sprintf("%d", hn.Number)
}

// ParseBlockHashOrNumber accepts a 0x-prefixed 32 byte hash or a decimal number.
func ParseBlockHashOrNumber(s string) (BlockHashOrNumber, error) {
	if has0xPrefix(s) {
		b, err := hexutil.Decode(s)
		if err != nil {
			return BlockHashOrNumber{}, err
		}
		if len(b) != common.HashLength {
			return BlockHashOrNumber{}, fmt.Errorf("invalid block hash length %d", len(b))
		}
		return HashID(common.BytesToHash(b)), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockHashOrNumber{}, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return NumberID(n), nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// EncodeRLP is a specialized encoder for BlockHashOrNumber to encode only one of the
// two contained union fields.
func (hn BlockHashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("%w: %x and %d", errHashAndNumber, hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP is a specialized decoder for BlockHashOrNumber to decode the contents
// into either a block hash or a block number.
func (hn *BlockHashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == 32:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	case size <= 8:
		hn.Hash = common.Hash{}
		return s.Decode(&hn.Number)
	default:
		return fmt.Errorf("invalid input size %d for origin", size)
	}
}
