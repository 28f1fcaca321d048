// This file resolves named streams: descend the directory tree by path,
// then reconstruct the content from the main or mini sector chain.

package msg

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// readStreamEntry materializes the content of a stream entry, choosing the
// main or mini chain by comparing the stream size against the root's
// mini-cutoff.
func (tree *Tree) readStreamEntry(entry DirectoryEntry) []byte {
	size := entry.StreamSize

	if size == 0 {
		return make([]byte, 0)
	}

	if size < uint64(tree.cr.header.MiniStreamCutoff) {
		return tree.cr.resolveMiniChain(entry.StartSector, int64(size))
	}

	return tree.cr.resolveChain(entry.StartSector, int64(size))
}

// getStreamIfExists is the non-failing lookup used internally: absence is a
// normal outcome, while structural problems still panic.
func (tree *Tree) getStreamIfExists(pathParts []string) (data []byte, found bool) {
	id, found := tree.Lookup(pathParts)
	if found == false {
		return nil, false
	}

	entry := tree.entries[id]
	if entry.ObjectType != ObjectTypeStream {
		return nil, false
	}

	return tree.readStreamEntry(entry), true
}

// GetStream returns the reconstructed content of the stream at the given
// path. A missing path segment yields ErrStreamNotFound, which is an
// expected outcome for optional streams and distinct from corruption.
func (tree *Tree) GetStream(pathParts []string) (data []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	data, found := tree.getStreamIfExists(pathParts)
	if found == false {
		log.Panic(ErrStreamNotFound)
	}

	return data, nil
}
