package connectivity

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeInterfaces(ifaces ...net.Interface) *InterfaceObserver {
	o := NewInterfaceObserver(0)
	o.list = func() ([]net.Interface, error) { return ifaces, nil }
	o.addrs = func(i net.Interface) ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.IPv4(10, 0, 0, byte(i.Index))}}, nil
	}
	return o
}

func TestInterfaceObserver_CurrentSignal(t *testing.T) {
	lo := net.Interface{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	wlan := net.Interface{Index: 2, Name: "wlan0", Flags: net.FlagUp}
	wwan := net.Interface{Index: 3, Name: "wwan0", Flags: net.FlagUp}
	down := net.Interface{Index: 4, Name: "eth0"}

	tests := []struct {
		name   string
		ifaces []net.Interface
		want   Signal
	}{
		{"loopback only", []net.Interface{lo}, SignalNone},
		{"down interface", []net.Interface{lo, down}, SignalNone},
		{"wifi", []net.Interface{lo, wlan}, SignalWiFi},
		{"cellular", []net.Interface{lo, wwan}, SignalCellular},
		{"prefers unmetered", []net.Interface{wwan, wlan}, SignalWiFi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fakeInterfaces(tt.ifaces...).CurrentSignal(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterfaceObserver_NoAddress(t *testing.T) {
	o := fakeInterfaces(net.Interface{Index: 2, Name: "wlan0", Flags: net.FlagUp})
	o.addrs = func(net.Interface) ([]net.Addr, error) { return nil, nil }

	got, err := o.CurrentSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SignalNone, got)
}

func TestInterfaceObserver_ListError(t *testing.T) {
	o := NewInterfaceObserver(0)
	o.list = func() ([]net.Interface, error) { return nil, errors.New("permission denied") }

	_, err := o.CurrentSignal(context.Background())
	assert.Error(t, err)
}

func TestClassify_CellularPrefixes(t *testing.T) {
	for _, name := range []string{"wwan0", "rmnet_data0", "ppp0", "ccmni1", "pdp_ip0"} {
		assert.Equal(t, SignalCellular, classify(net.Interface{Name: name, Flags: net.FlagUp}), name)
	}
	assert.Equal(t, SignalWiFi, classify(net.Interface{Name: "en0", Flags: net.FlagUp}))
}
