package state

import "github.com/lumencanvas/clasp/pkg/wire"

// Strategy names the conflict resolution algorithm bound to an address subtree.
type Strategy uint8

const (
	StrategyLWW Strategy = iota
	StrategyMax
	StrategyMin
	StrategyLock
	StrategyMerge
)

func (s Strategy) String() string {
	switch s {
	case StrategyLWW:
		return "lww"
	case StrategyMax:
		return "max"
	case StrategyMin:
		return "min"
	case StrategyLock:
		return "lock"
	case StrategyMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// resolve computes the candidate value/writer/timestamp the write should
// produce, given the currently stored state and an incoming Set attempt.
// It never mutates current; the caller decides whether to commit.
//
// LWW, Max and Min are directly deterministic given (current, incoming, now).
// Lock resolution (who MAY write at all) is handled one layer up in
// Store.ApplySet, since it depends on lock_holder bookkeeping shared across
// strategies, not just the value comparison itself.
func resolve(strategy Strategy, merge MergeFunc, current ParamState, incomingValue wire.Value, writer string, now int64) ParamState {
	switch strategy {
	case StrategyMax, StrategyMin:
		cf, cok := current.Value.AsFloat()
		nf, nok := incomingValue.AsFloat()
		if cok && nok {
			pick := nf
			if strategy == StrategyMax {
				if cf > nf {
					pick = cf
				}
			} else {
				if cf < nf {
					pick = cf
				}
			}
			if pick == cf {
				return current
			}
			return ParamState{Value: incomingValue, Writer: writer, Timestamp: now}
		}
		// non-numeric values fall back to LWW
		return resolve(StrategyLWW, merge, current, incomingValue, writer, now)
	case StrategyMerge:
		if merge != nil {
			return merge(current, ParamState{Value: incomingValue, Writer: writer, Timestamp: now}, now)
		}
		return resolve(StrategyLWW, merge, current, incomingValue, writer, now)
	case StrategyLock:
		// Lock admission already happened in ApplySet; once admitted the
		// write always takes effect, same as LWW with no contest.
		fallthrough
	case StrategyLWW:
		fallthrough
	default:
		return ParamState{Value: incomingValue, Writer: writer, Timestamp: now}
	}
}

// MergeFunc is the application-supplied merge conflict resolution extension
// point described in §4.5.1. now is the server timestamp in microseconds.
type MergeFunc func(current, incoming ParamState, now int64) ParamState
