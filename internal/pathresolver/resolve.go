// Package pathresolver implements spec.md §4.5: turning an absolute or
// relative path string into a (parent directory, leaf name) pair by
// walking real directory entries token by token. Token splitting and
// error-reporting idiom are grounded on
// TheReallyRealWanderer-WiCOS64-Remote-Storage-Server's
// internal/pathutil/pathutil.go, adapted here to resolve against live
// directory entries (its "." / ".." are directory entries, not syntactic
// rewrites) rather than purely normalizing a string.
package pathresolver

import (
	"fmt"
	"strings"

	"github.com/pintoskernel/pintosfs/internal/directory"
	"github.com/pintoskernel/pintosfs/internal/inode"
)

// MaxPathLen is spec.md §4.5's input length bound.
const MaxPathLen = 4095

// Resolver walks paths against a given inode store.
type Resolver struct {
	store *inode.Store
}

func New(store *inode.Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) openDir(sector uint32) (*directory.Directory, error) {
	oi, err := r.store.Open(sector)
	if err != nil {
		return nil, err
	}
	return directory.Open(r.store, oi)
}

// Resolve returns the parent directory handle and leaf name for path,
// relative to cwd when path is not absolute. The caller owns cwd and must
// close it separately; Resolve always returns a freshly opened parent
// handle (even when the answer is cwd's own directory) so callers have a
// uniform "always Close what Resolve returns" contract.
func (r *Resolver) Resolve(cwd *directory.Directory, path string) (parent *directory.Directory, leaf string, err error) {
	if len(path) == 0 {
		return nil, "", fmt.Errorf("pathresolver.Resolve: empty path")
	}
	if len(path) > MaxPathLen {
		return nil, "", fmt.Errorf("pathresolver.Resolve: path exceeds %d bytes", MaxPathLen)
	}

	var cur *directory.Directory
	if path[0] == '/' {
		cur, err = r.openDir(directory.RootSector)
	} else {
		cur = directory.Reopen(r.store, cwd)
	}
	if err != nil {
		return nil, "", fmt.Errorf("pathresolver.Resolve: %w", err)
	}

	tokens := splitTokens(path)
	if len(tokens) == 0 {
		// The path collapses to "no tokens" (e.g. "/"): the leaf is ".".
		return cur, ".", nil
	}

	for i, tok := range tokens {
		if i == len(tokens)-1 {
			return cur, tok, nil
		}

		sector, found, lerr := cur.Lookup(tok)
		if lerr != nil {
			cur.Close()
			return nil, "", fmt.Errorf("pathresolver.Resolve: %w", lerr)
		}
		if !found {
			cur.Close()
			return nil, "", fmt.Errorf("pathresolver.Resolve: %q not found", tok)
		}

		next, oerr := r.openDir(sector)
		cur.Close()
		if oerr != nil {
			return nil, "", fmt.Errorf("pathresolver.Resolve: %q is not a directory: %w", tok, oerr)
		}
		cur = next
	}

	// Unreachable: the loop above always returns on the final token.
	return nil, "", fmt.Errorf("pathresolver.Resolve: internal error resolving %q", path)
}

func splitTokens(path string) []string {
	parts := strings.Split(path, "/")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
