// SPDX-License-Identifier: GPL-2.0-or-later

package containers_test

import (
	"net/netip"

	"github.com/memhier/simcore/lib/containers"
)

var _ containers.Ordered[netip.Addr] = netip.Addr{}
