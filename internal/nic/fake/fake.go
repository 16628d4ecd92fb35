// Package fake provides scriptable Driver and VirtqueuePair test doubles
// for exercising the ring and virtqueue NIC transport variants, including
// the NOT_IMPLEMENTED fallback path.
package fake

import (
	"sync"

	"github.com/hensoldt-cyber/networkstackd/internal/nic"
)

// Driver is a scriptable nic.Driver/nic.VirtqueueDriver.
type Driver struct {
	mu sync.Mutex

	mac [6]byte

	// readQueue holds frames to hand back from DevRead, in order.
	readQueue [][]byte
	// notImplementedOnce, if true, makes the very first DevRead return
	// nic.ErrNotImplemented regardless of readQueue.
	notImplementedOnce bool
	notImplementedSent bool

	writes     [][]byte
	notifySent int

	dataReady chan struct{}
}

func New() *Driver {
	return &Driver{
		mac:       [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		dataReady: make(chan struct{}, 1),
	}
}

// DataReady implements nic.NotifyingDriver: it fires whenever a frame is
// queued via QueueFrame.
func (d *Driver) DataReady() <-chan struct{} {
	return d.dataReady
}

func (d *Driver) signalDataReady() {
	select {
	case d.dataReady <- struct{}{}:
	default:
	}
}

// WithNotImplementedOnce configures the driver to answer the first DevRead
// with ErrNotImplemented, simulating a driver that doesn't support pull
// receive.
func (d *Driver) WithNotImplementedOnce() *Driver {
	d.notImplementedOnce = true
	return d
}

func (d *Driver) QueueFrame(frame []byte) {
	d.mu.Lock()
	d.readQueue = append(d.readQueue, frame)
	d.mu.Unlock()
	d.signalDataReady()
}

func (d *Driver) DevRead(buf []byte) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.notImplementedOnce && !d.notImplementedSent {
		d.notImplementedSent = true
		return 0, 0, nic.ErrNotImplemented
	}
	if len(d.readQueue) == 0 {
		return 0, 0, nic.ErrNoData
	}
	frame := d.readQueue[0]
	d.readQueue = d.readQueue[1:]
	n := copy(buf, frame)
	return n, len(d.readQueue), nil
}

func (d *Driver) DevWrite(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	d.writes = append(d.writes, cp)
	return len(buf), nil
}

func (d *Driver) GetMACAddress() ([6]byte, error) {
	return d.mac, nil
}

func (d *Driver) NotifySend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifySent++
}

func (d *Driver) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

// VirtqueuePair is a scriptable nic.VirtqueuePair.
type VirtqueuePair struct {
	mu        sync.Mutex
	availTx   []nic.RingObject
	availRx   []nic.RingObject
	usedTx    []uint32
	usedRx    []uint32
}

func NewVirtqueuePair() *VirtqueuePair {
	return &VirtqueuePair{}
}

func (v *VirtqueuePair) PushAvailableTx(ro nic.RingObject) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.availTx = append(v.availTx, ro)
}

func (v *VirtqueuePair) PushAvailableRx(ro nic.RingObject) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.availRx = append(v.availRx, ro)
}

func (v *VirtqueuePair) AvailableTx() (nic.RingObject, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.availTx) == 0 {
		return nic.RingObject{}, false
	}
	ro := v.availTx[0]
	v.availTx = v.availTx[1:]
	return ro, true
}

func (v *VirtqueuePair) AddUsedTx(id uint32, writtenLen int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.usedTx = append(v.usedTx, id)
}

func (v *VirtqueuePair) AvailableRx() (nic.RingObject, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.availRx) == 0 {
		return nic.RingObject{}, false
	}
	ro := v.availRx[0]
	v.availRx = v.availRx[1:]
	return ro, true
}

func (v *VirtqueuePair) AddUsedRx(id uint32, writtenLen int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.usedRx = append(v.usedRx, id)
}

func (v *VirtqueuePair) UsedRxIDs() []uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint32(nil), v.usedRx...)
}
