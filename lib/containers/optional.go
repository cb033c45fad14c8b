// SPDX-License-Identifier: GPL-2.0-or-later

package containers

type Optional[T any] struct {
	OK  bool
	Val T
}
