package pxchain

// NetworkDescription describes the network a validator belongs to.
// It is written to storage once, at genesis, and served verbatim.
type NetworkDescription struct {
	Name              string     `json:"name"`
	GenesisConfigHash CryptoHash `json:"genesis_config_hash"`
	GenesisTimestamp  Timestamp  `json:"genesis_timestamp"`
}
