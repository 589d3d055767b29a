package model

// LogRecord is the normalized representation of a chain log as delivered by
// the ledger client, before decoding.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
}

// Meta returns the ledger coordinates of the record.
func (lr LogRecord) Meta() LogMeta {
	return LogMeta{
		Contract:    lr.Address,
		BlockNumber: lr.BlockNumber,
		BlockHash:   lr.BlockHash,
		TxHash:      lr.TxHash,
		LogIndex:    lr.LogIndex,
		Timestamp:   lr.Timestamp,
	}
}

// Topic0 returns the event signature topic or "".
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}
