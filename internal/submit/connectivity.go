package submit

import "net"

// Connectivity reports whether the device has any usable network at all.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool { return f() }

// AlwaysOnline never short-circuits a submission.
var AlwaysOnline Connectivity = ConnectivityFunc(func() bool { return true })

// InterfaceConnectivity treats the host as online when at least one
// non-loopback interface is up and carries an address.
type InterfaceConnectivity struct{}

func (InterfaceConnectivity) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Unknown is not offline; let the request decide.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
