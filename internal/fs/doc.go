// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the standard os package
//   - [FaultyFS]: test utility for fault injection (simulated I/O errors,
//     sync counting)
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("wal", fs.Fault{FailOnSync: true})
//	// inject ffs into the component under test
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem operations are typically fast (microseconds on NVMe) and
// non-interruptible at the syscall level. Slow remote storage goes through
// the blobstore package instead, which is context-aware.
package fs
