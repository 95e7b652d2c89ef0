// Package dashboard holds the named telemetry channels mechanisms publish and the live-tunable
// values operators edit while the robot runs. Nothing is persisted.
package dashboard

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/team3128/robot/control"
	"github.com/team3128/robot/logging"
)

// ErrNotFound is returned for unknown tabs or channels.
var ErrNotFound = errors.New("dashboard entry not found")

// ErrReadOnly is returned when writing to a data channel.
var ErrReadOnly = errors.New("dashboard entry is read only")

// A Sendable publishes a group of values, such as a controller's state.
type Sendable interface {
	Telemetry() map[string]float64
}

type tab struct {
	debug     map[string]*control.Tunable
	data      map[string]func() float64
	sendables map[string]Sendable
}

func newTab() *tab {
	return &tab{
		debug:     map[string]*control.Tunable{},
		data:      map[string]func() float64{},
		sendables: map[string]Sendable{},
	}
}

// Dashboard is a set of tabs, each holding debug, data and sendable channels.
type Dashboard struct {
	mu     sync.Mutex
	logger logging.Logger
	tabs   map[string]*tab
}

// New returns an empty dashboard.
func New(logger logging.Logger) *Dashboard {
	return &Dashboard{logger: logger, tabs: map[string]*tab{}}
}

func (d *Dashboard) tabLocked(name string) *tab {
	t, ok := d.tabs[name]
	if !ok {
		t = newTab()
		d.tabs[name] = t
	}
	return t
}

// Debug returns the live-tunable channel tab/name, creating it at def. Later calls return the
// same cell and ignore def.
func (d *Dashboard) Debug(tabName, name string, def float64) *control.Tunable {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tabLocked(tabName)
	if cell, ok := t.debug[name]; ok {
		return cell
	}
	cell := control.NewTunable(def)
	t.debug[name] = cell
	return cell
}

// AddDebug publishes an existing cell as the live-tunable channel tab/name.
func (d *Dashboard) AddDebug(tabName, name string, cell *control.Tunable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabLocked(tabName).debug[name] = cell
}

// AddData publishes supplier under tab/name, replacing any previous supplier.
func (d *Dashboard) AddData(tabName, name string, supplier func() float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabLocked(tabName).data[name] = supplier
}

// AddSendable publishes every value of s under tab/name.
func (d *Dashboard) AddSendable(tabName, name string, s Sendable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabLocked(tabName).sendables[name] = s
}

// Set writes a debug channel.
func (d *Dashboard) Set(tabName, name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[tabName]
	if !ok {
		return errors.Wrapf(ErrNotFound, "tab %q", tabName)
	}
	if cell, ok := t.debug[name]; ok {
		cell.Set(value)
		d.logger.Infow("debug value changed", "tab", tabName, "name", name, "value", value)
		return nil
	}
	if _, ok := t.data[name]; ok {
		return errors.Wrapf(ErrReadOnly, "%s/%s", tabName, name)
	}
	if _, ok := t.sendables[name]; ok {
		return errors.Wrapf(ErrReadOnly, "%s/%s", tabName, name)
	}
	return errors.Wrapf(ErrNotFound, "%s/%s", tabName, name)
}

// TabSnapshot is the state of one tab at a point in time.
type TabSnapshot struct {
	Debug     map[string]float64            `json:"debug"`
	Data      map[string]float64            `json:"data"`
	Sendables map[string]map[string]float64 `json:"sendables"`
}

func (t *tab) snapshot() TabSnapshot {
	return TabSnapshot{
		Debug:     lo.MapValues(t.debug, func(c *control.Tunable, _ string) float64 { return c.Get() }),
		Data:      lo.MapValues(t.data, func(f func() float64, _ string) float64 { return f() }),
		Sendables: lo.MapValues(t.sendables, func(s Sendable, _ string) map[string]float64 { return s.Telemetry() }),
	}
}

// Tabs returns the tab names, sorted.
func (d *Dashboard) Tabs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := lo.Keys(d.tabs)
	sort.Strings(names)
	return names
}

// Tab returns a snapshot of one tab.
func (d *Dashboard) Tab(name string) (TabSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[name]
	if !ok {
		return TabSnapshot{}, errors.Wrapf(ErrNotFound, "tab %q", name)
	}
	return t.snapshot(), nil
}

// Snapshot returns every tab.
func (d *Dashboard) Snapshot() map[string]TabSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.MapValues(d.tabs, func(t *tab, _ string) TabSnapshot { return t.snapshot() })
}
