package connectivity

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// cellularPrefixes name modem-style interfaces.
var cellularPrefixes = []string{"wwan", "rmnet", "ppp", "ccmni", "pdp_ip"}

// InterfaceObserver derives the signal from the host's network interfaces.
// It is a path signal, not a reachability probe: an interface that is up
// with an address may still have no route to the provider.
type InterfaceObserver struct {
	interval time.Duration
	list     func() ([]net.Interface, error)
	addrs    func(net.Interface) ([]net.Addr, error)
}

// NewInterfaceObserver creates an observer that polls every interval for
// subscribers. A non-positive interval uses the default.
func NewInterfaceObserver(interval time.Duration) *InterfaceObserver {
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	return &InterfaceObserver{
		interval: interval,
		list:     net.Interfaces,
		addrs:    func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// CurrentSignal implements Observer.
func (o *InterfaceObserver) CurrentSignal(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return SignalNone, err
	}
	ifaces, err := o.list()
	if err != nil {
		return SignalNone, err
	}

	best := SignalNone
	for _, iface := range ifaces {
		sig := classify(iface)
		if sig == SignalNone {
			continue
		}
		addrs, err := o.addrs(iface)
		if err != nil || len(addrs) == 0 {
			continue
		}
		// Prefer the unmetered path when both exist.
		if sig == SignalWiFi {
			return SignalWiFi, nil
		}
		best = sig
	}
	return best, nil
}

// Subscribe implements Observer by polling and reporting changes.
func (o *InterfaceObserver) Subscribe(fn func(Signal)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		last, err := o.CurrentSignal(ctx)
		if err != nil {
			last = SignalNone
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sig, err := o.CurrentSignal(ctx)
				if err != nil {
					sig = SignalNone
				}
				if sig != last {
					last = sig
					fn(sig)
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// classify maps a single interface to a signal, ignoring its addresses.
func classify(iface net.Interface) Signal {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return SignalNone
	}
	name := strings.ToLower(iface.Name)
	for _, p := range cellularPrefixes {
		if strings.HasPrefix(name, p) {
			return SignalCellular
		}
	}
	return SignalWiFi
}
