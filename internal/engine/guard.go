package engine

import (
	"fmt"

	"yieldsplit/internal/model"
)

const (
	statusPaused = "paused"
	statusLocked = "locked"
)

// Guards holds administrative pause and lock flags keyed by series or pool key.
// A flag on a series covers every pool of that series.
type Guards struct {
	Status map[string]string `json:"status"`
}

func NewGuards() *Guards {
	return &Guards{Status: make(map[string]string)}
}

func (g *Guards) pause(key string) error {
	if g.Status[key] == statusLocked {
		return fmt.Errorf("%w: %s", model.ErrLocked, key)
	}
	g.Status[key] = statusPaused
	return nil
}

func (g *Guards) unpause(key string) error {
	switch g.Status[key] {
	case statusLocked:
		return fmt.Errorf("%w: %s", model.ErrLocked, key)
	case statusPaused:
		delete(g.Status, key)
	}
	return nil
}

func (g *Guards) lock(key string) {
	g.Status[key] = statusLocked
}

func guardError(key, status string) error {
	switch status {
	case statusLocked:
		return fmt.Errorf("%w: %s", model.ErrLocked, key)
	case statusPaused:
		return fmt.Errorf("%w: %s", model.ErrPaused, key)
	}
	return nil
}

// checkSeries fails when the series is paused or locked.
func (g *Guards) checkSeries(key model.SeriesKey) error {
	k := key.String()
	return guardError(k, g.Status[k])
}

// checkPool fails when the pool or its series is paused or locked.
func (g *Guards) checkPool(key model.PoolKey) error {
	if err := g.checkSeries(key.Series); err != nil {
		return err
	}
	k := key.String()
	return guardError(k, g.Status[k])
}

// poolStatus returns the strongest flag covering key.
func (g *Guards) poolStatus(key model.PoolKey) string {
	series, pool := g.Status[key.Series.String()], g.Status[key.String()]
	if series == statusLocked || pool == statusLocked {
		return statusLocked
	}
	if series != "" {
		return series
	}
	return pool
}
