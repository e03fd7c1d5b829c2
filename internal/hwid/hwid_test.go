package hwid

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSource(ifaces []net.Interface, host string, files map[string]string) Source {
	return Source{
		Interfaces: func() ([]net.Interface, error) { return ifaces, nil },
		Hostname: func() (string, error) {
			if host == "" {
				return "", errors.New("no hostname")
			}
			return host, nil
		},
		ReadFile: func(p string) ([]byte, error) {
			if v, ok := files[p]; ok {
				return []byte(v), nil
			}
			return nil, os.ErrNotExist
		},
	}
}

func iface(name, mac string, flags net.Flags) net.Interface {
	hw, _ := net.ParseMAC(mac)
	return net.Interface{Name: name, HardwareAddr: hw, Flags: flags}
}

func TestCollect_PrefersUpNonLoopbackInterface(t *testing.T) {
	src := fakeSource([]net.Interface{
		iface("wlan0", "aa:aa:aa:aa:aa:aa", 0),
		iface("eth1", "cc:cc:cc:cc:cc:cc", net.FlagUp),
		iface("eth0", "bb:bb:bb:bb:bb:bb", net.FlagUp),
		iface("lo", "00:00:00:00:00:00", net.FlagUp|net.FlagLoopback),
	}, "Build-01", map[string]string{"/etc/machine-id": "abc123\n"})

	c, err := src.Collect()
	require.NoError(t, err)
	assert.Equal(t, "bb:bb:bb:bb:bb:bb", c.MACAddress)
	assert.Equal(t, "Build-01", c.Hostname)
	assert.Equal(t, "abc123", c.MachineID)
}

func TestCollect_FallsBackToDownInterface(t *testing.T) {
	src := fakeSource([]net.Interface{iface("wlan0", "aa:aa:aa:aa:aa:aa", 0)}, "", nil)

	c, err := src.Collect()
	require.NoError(t, err)
	assert.Equal(t, "aa:aa:aa:aa:aa:aa", c.MACAddress)
}

func TestCollect_NoFacts(t *testing.T) {
	_, err := fakeSource(nil, "", nil).Collect()
	assert.ErrorContains(t, err, "no hardware facts available")
}

func TestHWID_StableAndNormalized(t *testing.T) {
	a := Components{MACAddress: "AA:BB:CC:DD:EE:FF", Hostname: " Build-01 ", OS: "linux", Arch: "amd64"}
	b := Components{MACAddress: "aa:bb:cc:dd:ee:ff", Hostname: "build-01", OS: "linux", Arch: "amd64"}

	assert.Equal(t, a.HWID(), b.HWID())
	assert.Regexp(t, `^[0-9A-F]{32}$`, a.HWID())

	b.MachineID = "abc"
	assert.NotEqual(t, a.HWID(), b.HWID())
}
