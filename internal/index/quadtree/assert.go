//go:build mapdebug

package quadtree

import "fmt"

// debug enables traversal invariant checks.
const debug = true

// assert panics when cond is false. Only compiled with the mapdebug tag.
func assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("quadtree: "+format, args...))
	}
}
