package nic

// Transport is satisfied by both RingTransport and VirtqueueTransport; it
// is what gets wrapped into an engine.Device for RegisterDevice.
type Transport interface {
	SendFrame(buf []byte) (int, error)
	PollReceive(loopScore int, deliver func([]byte, FreeFunc)) (int, error)
}

// DeviceAdapter implements engine.Device (via structural typing -- nic does
// not import engine to avoid a cycle, since engine.Adapter only needs a
// value matching the Device method set) over a Transport: this is the
// glue that registers a single device with the protocol engine.
type DeviceAdapter struct {
	Transport Transport
}

func NewDeviceAdapter(t Transport) *DeviceAdapter {
	return &DeviceAdapter{Transport: t}
}

func (d *DeviceAdapter) SendFrame(buf []byte) (int, error) {
	return d.Transport.SendFrame(buf)
}

func (d *DeviceAdapter) Poll(loopScore int, deliver func(frame []byte, free func())) (int, error) {
	return d.Transport.PollReceive(loopScore, func(frame []byte, f FreeFunc) {
		deliver(frame, func() { f() })
	})
}

func (d *DeviceAdapter) Destroy() {}
