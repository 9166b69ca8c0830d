//go:build !unix

package walker

import "io/fs"

// devIno has no portable source outside unix; records fall back to
// path-based identity.
func devIno(fs.FileInfo) (dev, ino uint64) { return 0, 0 }
