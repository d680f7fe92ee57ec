//go:build linux

package nic

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
)

// Tap is a Linux TAP-device virtual NIC, ported from
// original_source/src/tap-client.cc's hand-rolled ioctl(TUNSETIFF) dance.
// github.com/vishvananda/netlink's Tuntap link type performs that same
// ioctl internally and hands back an open file, so this backend imports a
// library for the concern the C++ source hand-rolled rather than
// reimplementing the ioctl sequence in Go.
type Tap struct {
	name string
	mtu  int
	link *netlink.Tuntap
	file *os.File
}

// NewTap returns a Tap NIC that will create (or reuse) a device named name
// with the given MTU once Start is called.
func NewTap(name string, mtu int) *Tap {
	return &Tap{name: name, mtu: mtu}
}

// Start implements Interface: creates the TAP device, brings it up, and
// sets its MTU.
func (t *Tap) Start() error {
	link := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: t.name, MTU: t.mtu},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_DEFAULTS,
	}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("nic: create tap %s: %w", t.name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		netlink.LinkDel(link)
		return fmt.Errorf("nic: bring up tap %s: %w", t.name, err)
	}
	if len(link.Fds) == 0 {
		netlink.LinkDel(link)
		return fmt.Errorf("nic: tap %s: no file descriptor returned", t.name)
	}
	t.link = link
	t.file = link.Fds[0]
	return nil
}

// Stop implements Interface: closes the device's file descriptor and
// removes the link.
func (t *Tap) Stop() error {
	if t.file != nil {
		t.file.Close()
	}
	if t.link != nil {
		return netlink.LinkDel(t.link)
	}
	return nil
}

// Read implements Interface.
func (t *Tap) Read(buf []byte) (int, error) {
	return t.file.Read(buf)
}

// Write implements Interface.
func (t *Tap) Write(frame []byte) (int, error) {
	return t.file.Write(frame)
}

// Name implements Interface.
func (t *Tap) Name() string { return t.name }
