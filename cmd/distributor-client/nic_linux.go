//go:build linux

package main

import "github.com/nat-lab/distributor/pkg/nic"

func newDeviceNIC(dev string, mtu int) (nic.Interface, error) {
	return nic.NewTap(dev, mtu), nil
}
