//go:build !mapdebug

package quadtree

// debug is false in release builds, so guarded checks are compiled out.
const debug = false

func assert(bool, string, ...any) {}
