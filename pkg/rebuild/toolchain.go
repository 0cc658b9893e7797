package rebuild

import (
	"path/filepath"
	"strings"

	"github.com/cobble/cobble/pkg/queue"
)

// Toolchain names the compiler and linker drivers and their extra flags.
type Toolchain struct {
	Compiler     string
	Linker       string
	CompileFlags []string
	LinkFlags    []string
}

// DefaultToolchain uses the system C++ driver for both phases.
func DefaultToolchain() Toolchain {
	return Toolchain{
		Compiler: "c++",
		Linker:   "c++",
	}
}

// ObjectPath returns the object file produced for unit in dir.
func ObjectPath(unit, dir string) string {
	base := filepath.Base(unit)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".o")
}

// Compile enqueues "<compiler> -c unit -o dir/stem.o flags..." and returns
// the object path.
func Compile(q *queue.Queue, tc Toolchain, mode queue.Mode, unit, dir string) string {
	obj := ObjectPath(unit, dir)
	argv := []string{tc.Compiler, "-c", unit, "-o", obj}
	argv = append(argv, tc.CompileFlags...)
	q.Append(mode, argv)
	return obj
}

// Link enqueues "<linker> objects... -o target flags..." as a single
// synchronous command.
func Link(q *queue.Queue, tc Toolchain, objects []string, target string) {
	argv := []string{tc.Linker}
	argv = append(argv, objects...)
	argv = append(argv, "-o", target)
	argv = append(argv, tc.LinkFlags...)
	q.Append(queue.Sync, argv)
}
