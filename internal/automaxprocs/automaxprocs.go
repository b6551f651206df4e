// Package automaxprocs sets GOMAXPROCS from the host's cgroup CPU quota on
// import. Blank-import it from main so a containerised node doesn't see a
// GOMAXPROCS pinned to the machine's full core count.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"
)

func init() {
	maxprocs.Set()
}
