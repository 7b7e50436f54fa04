package bard

import "github.com/cockroachdb/errors"

var (
	// ErrAlreadyConnected is returned by Connect when the guild already has
	// a live session. The existing session is left untouched.
	ErrAlreadyConnected = errors.New("already connected to a voice channel in this guild")

	// ErrNotConnected is returned by mutators that require a live session.
	ErrNotConnected = errors.New("not connected to a voice channel")

	// ErrNotJoinable marks a voice channel the bot cannot join or speak in.
	ErrNotJoinable = errors.New("voice channel is not joinable or speakable")
)
