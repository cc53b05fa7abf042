package notify

// NotificationID pairs a registered handle with the dispatcher that delivers
// it.
type NotificationID struct {
	Handle     uint32
	Dispatcher *Dispatcher
}

// Erase drops the local registration. Call it once the device acknowledged
// the deletion of the handle.
func (n NotificationID) Erase() bool {
	if n.Dispatcher == nil {
		return false
	}

	return n.Dispatcher.Erase(n.Handle)
}
