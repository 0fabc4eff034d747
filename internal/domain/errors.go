package domain

import "errors"

var (
	// ErrDuplicateEntry is fatal on the master write path and swallowed on
	// the replication path.
	ErrDuplicateEntry = errors.New("index entry already exists")

	ErrNotFound = errors.New("index entry not found")

	// ErrNoWritableDisk rejects an upload whose target disk is not writable;
	// that disk's writer parks until refresh restores the disk.
	ErrNoWritableDisk = errors.New("no writable disk")

	// ErrPeerUnavailable skips the partition for the current repair cycle.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrCorruptIndex is fatal at startup.
	ErrCorruptIndex = errors.New("corrupt index")
)
