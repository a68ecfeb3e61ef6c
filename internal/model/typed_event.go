package model

// TypedEvent is a decoded game event with its source log reference,
// as written by the offline decode command.
type TypedEvent struct {
	BlockNumber uint64     `json:"block_number"`
	TxHash      string     `json:"tx_hash"`
	LogIndex    uint64     `json:"log_index"`
	Address     string     `json:"address"`
	EventName   string     `json:"event_name"`
	Timestamp   uint64     `json:"timestamp"`
	Decoded     Event      `json:"decoded"`
	Raw         *RawLogRef `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}
