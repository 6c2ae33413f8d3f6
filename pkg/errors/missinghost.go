package errors

// MissingHostMessage is the failure description sent to clients if the hosts segment is not followed by a host.
const MissingHostMessage = "No Tango host was specified"

// Error thrown if a request path contains the hosts segment but no host after it
type MissingHostError struct {
	Path string
}

func (err MissingHostError) Error() string {
	return MissingHostMessage
}
