package datachannel

// Observer receives the events of a Channel. Methods are called one at a
// time, in event order, on a goroutine owned by the connection. They may
// call any method of the Channel or Conn.
type Observer interface {
	OnOpen()
	OnError(err error)
	OnClose()
}

// ObserverFuncs adapts functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Open  func()
	Error func(err error)
	Close func()
}

func (o ObserverFuncs) OnOpen() {
	if o.Open != nil {
		o.Open()
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnClose() {
	if o.Close != nil {
		o.Close()
	}
}
