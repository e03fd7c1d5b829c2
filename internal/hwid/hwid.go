// Package hwid derives a stable hardware identifier for the local machine, in
// the same shape client tools send to /validate. licensectl uses it to smoke
// test a deployment from the machine it runs on.
package hwid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Components are the machine facts hashed into an HWID.
type Components struct {
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	MachineID  string `json:"machine_id"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
}

// HWID hashes the components. Missing facts are recorded as "unknown" so the
// result stays stable on machines that never expose them.
func (c Components) HWID() string {
	factors := []string{
		orUnknown(strings.ToLower(c.MACAddress)),
		orUnknown(strings.ToLower(strings.TrimSpace(c.Hostname))),
		orUnknown(c.MachineID),
		c.OS,
		c.Arch,
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}

// Source supplies machine facts. Tests replace it.
type Source struct {
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
	ReadFile   func(string) ([]byte, error)
}

// System reads facts from the running machine.
var System = Source{
	Interfaces: net.Interfaces,
	Hostname:   os.Hostname,
	ReadFile:   os.ReadFile,
}

// machineIDPaths are tried in order on Linux.
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Collect gathers the components. It only fails when no fact at all is
// available.
func (s Source) Collect() (Components, error) {
	c := Components{OS: runtime.GOOS, Arch: runtime.GOARCH}

	var errs []error
	if mac, err := s.primaryMAC(); err == nil {
		c.MACAddress = mac
	} else {
		errs = append(errs, err)
	}
	if host, err := s.Hostname(); err == nil {
		c.Hostname = host
	} else {
		errs = append(errs, err)
	}
	for _, p := range machineIDPaths {
		if data, err := s.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				c.MachineID = id
				break
			}
		}
	}

	if c.MACAddress == "" && c.Hostname == "" && c.MachineID == "" {
		return c, errors.Join(append([]error{errors.New("no hardware facts available")}, errs...)...)
	}
	return c, nil
}

// primaryMAC picks the lowest-named up, non-loopback interface with a hardware
// address, so the choice does not depend on enumeration order.
func (s Source) primaryMAC() (string, error) {
	ifaces, err := s.Interfaces()
	if err != nil {
		return "", err
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })

	var fallback string
	for _, iface := range ifaces {
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return mac, nil
		}
		if fallback == "" {
			fallback = mac
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errors.New("no interface with a hardware address")
}

// Local returns the HWID of the running machine.
func Local() (string, error) {
	c, err := System.Collect()
	if err != nil {
		return "", err
	}
	return c.HWID(), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
