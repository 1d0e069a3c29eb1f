//go:build !unix

package local

import "os"

// Advisory locking is unavailable; concurrent builds of one package are not serialized.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
