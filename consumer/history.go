package consumer

import "github.com/lakshaybadak/rodb/engine"

// HistoricalState is one superseded generation in the chain spec.md
// §4.10 describes: "the prior historical state is wired as the 'next'
// of its predecessor via a weak back-reference, forming a singly-linked
// chain of superseded generations that becomes collectible once no live
// handle remains." Go's garbage collector reclaims a HistoricalState on
// its own once nothing references it, so "weak back-reference" here
// means next simply isn't retained by anything except the chain itself
// — there is no separate strong root keeping old generations alive.
type HistoricalState struct {
	Engine  *engine.StateEngine
	Version uint64
	next    *HistoricalState
}

// Next returns the generation that superseded this one, or nil if this
// is the newest.
func (h *HistoricalState) Next() *HistoricalState { return h.next }
