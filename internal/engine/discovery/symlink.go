package discovery

import (
	"errors"
	"fmt"
)

// SymlinkPolicy decides what happens to symbolic links found while walking.
type SymlinkPolicy string

const (
	// SymlinkFollow stores the content of the link target under the link's path
	// and descends into linked directories.
	SymlinkFollow SymlinkPolicy = "follow"
	// SymlinkPreserve stores links as symlink entries.
	SymlinkPreserve SymlinkPolicy = "preserve"
	// SymlinkSkip leaves links out of the archive.
	SymlinkSkip SymlinkPolicy = "skip"
)

// ErrSymlinkCycle is returned when following a directory link leads back to
// one of its own ancestors.
var ErrSymlinkCycle = errors.New("symlink cycle")

// ParseSymlinkPolicy parses a policy name. An empty string selects SymlinkFollow.
func ParseSymlinkPolicy(s string) (SymlinkPolicy, error) {
	switch SymlinkPolicy(s) {
	case "", SymlinkFollow:
		return SymlinkFollow, nil
	case SymlinkPreserve:
		return SymlinkPreserve, nil
	case SymlinkSkip:
		return SymlinkSkip, nil
	default:
		return "", fmt.Errorf("unknown symlink policy %q (want %s, %s or %s)", s, SymlinkFollow, SymlinkPreserve, SymlinkSkip)
	}
}
