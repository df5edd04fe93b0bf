// Package discovery enumerates the files of a build output directory in a
// deterministic order.
//
// Entries are sorted by their forward-slash relative path using byte-wise
// comparison, so the result does not depend on directory listing order,
// timestamps or the host path separator. Directories produce no entries.
// Symlinks are handled according to a SymlinkPolicy.
package discovery
