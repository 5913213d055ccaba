package redis

// Key layout, one set per symbol:
//
//	rsi:{symbol}           stream of record JSON (field "data")
//	rsi:latest:{symbol}    most recent record JSON
//	pub:rsi:{symbol}       pubsub channel, one message per record
//	rsi:snapshot:{symbol}  JSON smoothing state for restart

func StreamKey(symbol string) string { return "rsi:" + symbol }
func LatestKey(symbol string) string { return "rsi:latest:" + symbol }
func PubSubChannel(symbol string) string { return "pub:rsi:" + symbol }
func SnapshotKey(symbol string) string { return "rsi:snapshot:" + symbol }
