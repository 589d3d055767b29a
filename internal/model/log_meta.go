package model

import "fmt"

// LogMeta holds the ledger coordinates of a log.
type LogMeta struct {
	Contract    string `json:"contract"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
}

// Meta returns the coordinates; embedded by every event.
func (m LogMeta) Meta() LogMeta {
	return m
}

// Key is the natural unique key of a log.
func (m LogMeta) Key() string {
	return fmt.Sprintf("%s:%d", m.TxHash, m.LogIndex)
}
