package risk

// Level pairs a named severity with its own independently configured
// breaker. Levels are ordered least to most severe, e.g. "notify",
// "pause_new", "full_stop".
type Level struct {
	Name    string
	Breaker *Breaker
}

// MultiLevel runs several breakers side by side. Every metric observation is
// fed to all levels; trading is permitted only when every level permits it.
type MultiLevel struct {
	levels []Level
}

// NewMultiLevel creates a composite breaker from levels ordered least to
// most severe.
func NewMultiLevel(levels ...Level) *MultiLevel {
	return &MultiLevel{levels: levels}
}

// Levels returns the configured levels in severity order.
func (m *MultiLevel) Levels() []Level {
	return m.levels
}

// CanTrade reports whether every level permits the trade.
func (m *MultiLevel) CanTrade(isClosing bool) bool {
	for _, l := range m.levels {
		if !l.Breaker.CanTrade(isClosing) {
			return false
		}
	}
	return true
}

// HighestTripped returns the most severe level that is not currently closed.
// ok is false when every level is closed.
func (m *MultiLevel) HighestTripped() (name string, ok bool) {
	for i := len(m.levels) - 1; i >= 0; i-- {
		if m.levels[i].Breaker.State() != StateClosed {
			return m.levels[i].Name, true
		}
	}
	return "", false
}

// UpdateMetrics feeds the observation to every level.
func (m *MultiLevel) UpdateMetrics(metrics Metrics) {
	for _, l := range m.levels {
		l.Breaker.UpdateMetrics(metrics)
	}
}

// RecordLoss forwards a losing-trade observation to every level.
func (m *MultiLevel) RecordLoss() {
	for _, l := range m.levels {
		l.Breaker.RecordLoss()
	}
}

// RecordWin forwards a winning-trade observation to every level.
func (m *MultiLevel) RecordWin() {
	for _, l := range m.levels {
		l.Breaker.RecordWin()
	}
}

// RecordAPIError forwards a broker-error observation to every level.
func (m *MultiLevel) RecordAPIError() {
	for _, l := range m.levels {
		l.Breaker.RecordAPIError()
	}
}
