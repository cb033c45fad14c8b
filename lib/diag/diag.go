// SPDX-License-Identifier: GPL-2.0-or-later

// Package diag implements the fatal-panic diagnostic dump path of §7:
// protocol violations abort with a pretty-printed dump of the offending
// request/queue state, rather than a bare error string, so a crash report
// is actually useful to whoever triages it.
package diag

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// dumpConfig matches the teacher's inspect_spewitems.go dump settings:
// Stringer/error methods are not invoked (values are dumped field by
// field), and pointer addresses and slice capacities are omitted so dumps
// are diffable across runs.
var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump renders v (typically a *reqbuf.MemReq or a queue snapshot) as a
// multi-line, indented dump suitable for a panic message or a crash log.
func Dump(label string, v any) string {
	return fmt.Sprintf("%s:\n%s", label, dumpConfig.Sdump(v))
}

// Fatalf panics with msg formatted per fmt.Sprintf, followed by Dump(label,
// v) appended on its own section -- the shape of a §7 protocol-violation
// abort: a short human sentence plus the full offending state.
func Fatalf(label string, v any, format string, args ...any) {
	panic(fmt.Errorf("%s\n\n%s", fmt.Sprintf(format, args...), Dump(label, v)))
}
