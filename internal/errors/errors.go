package errors

import "errors"

// Remote store errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated with the remote store")
	ErrNotFound         = errors.New("remote file not found")
)

// Archive errors.
var (
	ErrMalformedArchive = errors.New("malformed archive: parent directory missing")
)

// Local store errors.
var (
	ErrNotWorldsRoot  = errors.New("directory is not a minecraftWorlds folder")
	ErrInvalidWorldID = errors.New("invalid world id")
)
