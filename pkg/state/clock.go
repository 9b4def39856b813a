package state

import "time"

// clockNowMicros is the default server clock used when Store is built
// without an explicit nowFn override (tests inject deterministic clocks
// instead).
func clockNowMicros() int64 {
	return time.Now().UnixMicro()
}
