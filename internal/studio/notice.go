package studio

import (
	"errors"
)

// Notice is a message meant for the person using the form.
type Notice string

func (n Notice) Error() string { return string(n) }

const (
	ErrCredentialRequired   Notice = "Enter your OpenAI API key to continue."
	ErrPreviewTextRequired  Notice = "Add some text before previewing."
	ErrGenerateTextRequired Notice = "Add some text before generating audio."
	ErrNotConnected         Notice = "Add your OpenAI API key to generate audio."
	ErrSettingsChanged      Notice = "Settings changed while generating. Generate again."
	ErrUnexpected           Notice = "Unexpected error."
)

// ErrGenerationInFlight rejects a second generation while one is running.
var ErrGenerationInFlight = errors.New("generation already in progress")

// ErrClosed is returned by a generation that outlived its form.
var ErrClosed = errors.New("studio closed")

// MessageOf maps an error from a form operation to the text shown to the user.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}

	var notice Notice
	if errors.As(err, &notice) {
		return string(notice)
	}

	return string(ErrUnexpected)
}

// IsUserError reports whether err is a failure the user can act on, as opposed
// to a broken transport or speech platform.
func IsUserError(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return true
	}
	var notice Notice
	return errors.As(err, &notice) && notice != ErrUnexpected
}
