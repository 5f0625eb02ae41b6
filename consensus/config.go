package consensus

import "math/big"

// ChainConfig selects which rule set applies at a given block.
type ChainConfig struct {
	ChainID *big.Int `yaml:"chainId"`

	// LondonBlock activates EIP-1559 base fees. Nil means never.
	LondonBlock *uint64 `yaml:"londonBlock"`
	// ShanghaiTime activates EIP-4895 withdrawals. Nil means never.
	ShanghaiTime *uint64 `yaml:"shanghaiTime"`
	// Merged enforces proof-of-stake header rules on every block.
	Merged bool `yaml:"merged"`
}

// DevChainConfig has every fork active from genesis.
func DevChainConfig() *ChainConfig {
	zero := uint64(0)
	return &ChainConfig{
		ChainID:      big.NewInt(1337),
		LondonBlock:  &zero,
		ShanghaiTime: &zero,
		Merged:       true,
	}
}

func (c *ChainConfig) IsLondon(number uint64) bool {
	return c.LondonBlock != nil && number >= *c.LondonBlock
}

func (c *ChainConfig) IsShanghai(time uint64) bool {
	return c.ShanghaiTime != nil && time >= *c.ShanghaiTime
}
