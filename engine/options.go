package engine

import "go.uber.org/zap"

// Option configures a MatchingEngine.
type Option func(*MatchingEngine)

// WithFillHandler installs the fill sink. Passing it twice keeps the last.
func WithFillHandler(h FillHandler) Option {
	return func(me *MatchingEngine) { me.onFill = h }
}

// WithLogger sets the logger shared by the engine and its book.
func WithLogger(logger *zap.Logger) Option {
	return func(me *MatchingEngine) {
		if logger != nil {
			me.logger = logger
		}
	}
}

// WithClock overrides the clock that stamps order arrivals and fills.
func WithClock(clock Clock) Option {
	return func(me *MatchingEngine) {
		if clock != nil {
			me.clock = clock
		}
	}
}

// withFillTap adds h after whatever sink the caller configured.
func withFillTap(h FillHandler) Option {
	return func(me *MatchingEngine) {
		if me.onFill == nil {
			me.onFill = h
			return
		}
		me.onFill = MultiFillHandler{me.onFill, h}
	}
}
