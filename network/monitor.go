package network

import (
	"sync"
	"time"

	"github.com/flowrelay/flowrelay/util"
)

// Monitor probes connectivity on a fixed interval and feeds HAS_NETWORK /
// HAS_NO_NETWORK actions into the store. The probe is injected so hosts
// can point it at whatever reachability signal they trust.
type Monitor struct {
	store  *Store
	probe  func() bool
	ticker *util.TickWorker
	stop   chan struct{}
}

func NewMonitor(store *Store, probe func() bool, interval time.Duration, wg *sync.WaitGroup) *Monitor {
	m := &Monitor{
		store: store,
		probe: probe,
		stop:  make(chan struct{}),
	}
	m.ticker = util.NewTickWorker("network-monitor", interval, m.stop, m.check, wg)
	return m
}

func (m *Monitor) Start() {
	m.ticker.Start()
}

func (m *Monitor) Stop() {
	if m.ticker.IsRunning() {
		m.ticker.Stop()
	}
}

func (m *Monitor) check() {
	if m.probe() {
		m.store.Dispatch(HasNetworkAction())
	} else {
		m.store.Dispatch(HasNoNetworkAction())
	}
}
