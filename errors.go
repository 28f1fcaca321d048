package msg

import (
	"errors"

	goerrors "github.com/go-errors/errors"
)

var (
	// ErrNotCompoundFile indicates that the input does not start with the
	// compound-file signature, or that the header parameters are outside
	// what the format allows. No partial result is produced.
	ErrNotCompoundFile = errors.New("not a compound file")

	// ErrCorruptContainer indicates a sector-chain, directory-tree, or
	// declared-length inconsistency. All stream offsets derive from the
	// same allocation tables, so nothing decoded from a container in this
	// state can be trusted.
	ErrCorruptContainer = errors.New("corrupt compound-file container")

	// ErrStreamNotFound indicates that a requested path does not exist in
	// the directory tree. Optional streams are routinely absent, so this
	// is an expected outcome rather than a corruption signal.
	ErrStreamNotFound = errors.New("stream not found")
)

// rootError peels the stack-trace wrappers that `log.Wrap` applies so that
// the sentinel underneath can be compared directly.
func rootError(err error) error {
	for err != nil {
		wrapped, ok := err.(*goerrors.Error)
		if ok == false {
			break
		}

		err = wrapped.Err
	}

	return err
}

// IsNotCompoundFile indicates whether the given error means that the input
// was rejected by the header validation.
func IsNotCompoundFile(err error) bool {
	return rootError(err) == ErrNotCompoundFile
}

// IsCorruptContainer indicates whether the given error means that the
// container structures were internally inconsistent.
func IsCorruptContainer(err error) bool {
	return rootError(err) == ErrCorruptContainer
}

// IsNotFound indicates whether the given error means that a stream path was
// simply absent.
func IsNotFound(err error) bool {
	return rootError(err) == ErrStreamNotFound
}
