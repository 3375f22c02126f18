// Package budget implements per-tenant admission control for the fallback
// detector: a fixed per-minute call window plus a daily cost cap. It knows
// nothing about text; it sees only tenant identity and counters.
package budget

import (
	"sync"
	"time"
)

// Limits configures one controller. Zero values mean "no limit" for that
// dimension.
type Limits struct {
	// CallsPerWindow caps fallback calls per tenant per window.
	CallsPerWindow int
	// Window is the rate-limit window. Defaults to one minute.
	Window time.Duration
	// DailyCostCap caps accumulated fallback spend per tenant per UTC day,
	// in USD.
	DailyCostCap float64
}

// tenantState holds one tenant's counters. Mutated only under the tenant's
// own lock; rollover is lazy on access.
type tenantState struct {
	mu sync.Mutex

	windowStart time.Time
	windowCount int

	day       time.Time // UTC midnight of the day dailyCost covers
	dailyCost float64

	declined int64 // cumulative Admit denials, never reset
}

// Controller is the escalation admission gate. Admit reserves a window
// slot, Charge books the actual cost afterwards, Release undoes a
// reservation when the call never completed.
type Controller struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewController builds a controller with the given limits.
func NewController(limits Limits) *Controller {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &Controller{
		limits:  limits,
		now:     time.Now,
		tenants: make(map[string]*tenantState),
	}
}

// SetClock overrides the time source. Tests only.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Controller) tenant(id string) *tenantState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tenants[id]
	if !ok {
		st = &tenantState{}
		c.tenants[id] = st
	}
	return st
}

// rollover resets expired counters. Caller holds st.mu.
func (c *Controller) rollover(st *tenantState, now time.Time) {
	if now.Sub(st.windowStart) >= c.limits.Window {
		st.windowStart = now
		st.windowCount = 0
	}
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(st.day) {
		st.day = day
		st.dailyCost = 0
	}
}

// Admit reports whether one more fallback call is allowed for the tenant
// and, if so, reserves a window slot. The check and the increment are one
// critical section; concurrent callers see serialized counters.
func (c *Controller) Admit(tenant string) bool {
	st := c.tenant(tenant)
	now := c.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	c.rollover(st, now)

	if c.limits.CallsPerWindow > 0 && st.windowCount >= c.limits.CallsPerWindow {
		st.declined++
		return false
	}
	if c.limits.DailyCostCap > 0 && st.dailyCost >= c.limits.DailyCostCap {
		st.declined++
		return false
	}

	st.windowCount++
	return true
}

// Charge books the actual cost of a completed fallback call. The window
// slot stays consumed; only spend accumulates.
func (c *Controller) Charge(tenant string, cost float64) {
	if cost < 0 {
		return
	}
	st := c.tenant(tenant)
	now := c.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	c.rollover(st, now)
	st.dailyCost += cost
}

// Release returns a reserved window slot after an abandoned call (timeout,
// transport error). A timed-out call must not permanently burn budget.
func (c *Controller) Release(tenant string) {
	st := c.tenant(tenant)
	now := c.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	c.rollover(st, now)
	if st.windowCount > 0 {
		st.windowCount--
	}
}

// Usage is a point-in-time view of one tenant's counters.
type Usage struct {
	Tenant      string    `json:"tenant"`
	WindowStart time.Time `json:"window_start"`
	WindowCount int       `json:"window_count"`
	WindowLimit int       `json:"window_limit"`
	DailyCost   float64   `json:"daily_cost_usd"`
	DailyCap    float64   `json:"daily_cap_usd"`
	Declined    int64     `json:"declined"`
}

// Usage reports current counters for a tenant after lazy rollover.
func (c *Controller) Usage(tenant string) Usage {
	st := c.tenant(tenant)
	now := c.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	c.rollover(st, now)
	return Usage{
		Tenant:      tenant,
		WindowStart: st.windowStart,
		WindowCount: st.windowCount,
		WindowLimit: c.limits.CallsPerWindow,
		DailyCost:   st.dailyCost,
		DailyCap:    c.limits.DailyCostCap,
		Declined:    st.declined,
	}
}

// AllUsage snapshots every known tenant. Order is unspecified.
func (c *Controller) AllUsage() []Usage {
	c.mu.Lock()
	ids := make([]string, 0, len(c.tenants))
	for id := range c.tenants {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	out := make([]Usage, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Usage(id))
	}
	return out
}
