package errors

import "fmt"

// Error thrown if a database does not know a device
type DeviceNotFoundError struct {
	Device string
}

func (err DeviceNotFoundError) Error() string {
	return fmt.Sprintf("Device %s is not defined in the database", err.Device)
}
