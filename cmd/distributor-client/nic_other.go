//go:build !linux

package main

import (
	"fmt"

	"github.com/nat-lab/distributor/pkg/nic"
)

func newDeviceNIC(dev string, mtu int) (nic.Interface, error) {
	return nil, fmt.Errorf("distributor-client: tap device %q: not supported on this platform", dev)
}
