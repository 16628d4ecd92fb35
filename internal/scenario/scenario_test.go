// Package scenario exercises end-to-end socket scenarios (UDP echo,
// accept/ownership, quota exhaustion, NIC fallback) across rpc, pump,
// engine and nic together, using Ginkgo/Gomega for readable behavioral
// specs.
package scenario_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	"github.com/hensoldt-cyber/networkstackd/internal/engine/fake"
	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
	"github.com/hensoldt-cyber/networkstackd/internal/nic"
	nicfake "github.com/hensoldt-cyber/networkstackd/internal/nic/fake"
	"github.com/hensoldt-cyber/networkstackd/internal/pump"
	"github.com/hensoldt-cyber/networkstackd/internal/rpc"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

type alwaysRunning struct{}

func (alwaysRunning) CheckRunning() error { return nil }

var _ = Describe("UDP echo", func() {
	It("delivers exactly one READ record and lets the client recvfrom it", func() {
		table := socktable.New(8, []socktable.Client{
			{ClientID: 1, InUse: true, SocketQuota: 2},
		})
		eng := fake.New()
		adapter := engine.NewAdapter(table, eng)
		eng.SetCallbacks(adapter.OnReadable, adapter.OnAcceptReady)

		drv := nicfake.New()
		rt := nic.NewRingTransport(drv, 8)
		dev := nic.NewDeviceAdapter(rt)
		Expect(eng.RegisterDevice(dev)).To(Succeed())

		p := pump.New(eng, table, pump.NotifierFunc(func(int) {}), 16, nil)
		srv := rpc.New(alwaysRunning{}, table, adapter, p, nil)

		hA, err := srv.Create(1, socktable.Dgram)
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Bind(1, hA, "0.0.0.0:9000")).To(Succeed())

		drv.QueueFrame([]byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"))
		Expect(p.Tick()).To(Succeed())

		var recs []events.Record
		Eventually(func() int {
			recs, err = srv.GetPendingEvents(1, 100, 4096)
			Expect(err).NotTo(HaveOccurred())
			return len(recs)
		}, time.Second, 10*time.Millisecond).Should(Equal(1))

		Expect(recs[0].SocketHandle).To(Equal(int32(hA)))
		Expect(recs[0].ParentHandle).To(Equal(int32(socktable.NoHandle)))
		Expect(recs[0].CurrentError).To(Equal(int32(errkind.Success)))

		buf := make([]byte, 128)
		n, _, err := srv.RecvFrom(1, hA, buf, 128)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(64))
	})
})

var _ = Describe("Quota exhaustion", func() {
	It("fails the second create and leaves the quota counter at one", func() {
		table := socktable.New(4, []socktable.Client{
			{ClientID: 2, InUse: true, SocketQuota: 1},
		})
		eng := fake.New()
		adapter := engine.NewAdapter(table, eng)
		p := pump.New(eng, table, pump.NotifierFunc(func(int) {}), 16, nil)
		srv := rpc.New(alwaysRunning{}, table, adapter, p, nil)

		_, err := srv.Create(2, socktable.Stream)
		Expect(err).NotTo(HaveOccurred())

		_, err = srv.Create(2, socktable.Stream)
		Expect(errkind.OutOfBounds.Is(err)).To(BeTrue())

		ci := table.ClientIndex(2)
		Expect(ci).To(BeNumerically(">=", 0))
		c, ok := table.Client(ci)
		Expect(ok).To(BeTrue())
		Expect(c.CurrentSocketsInUse).To(Equal(1))
	})
})

var _ = Describe("Accept and cross-client ownership", func() {
	It("lets the owner accept and rejects close from a different client", func() {
		table := socktable.New(8, []socktable.Client{
			{ClientID: 1, InUse: true, SocketQuota: 4},
			{ClientID: 2, InUse: true, SocketQuota: 4},
		})
		eng := fake.New()
		adapter := engine.NewAdapter(table, eng)
		eng.SetCallbacks(adapter.OnReadable, adapter.OnAcceptReady)

		drv := nicfake.New()
		rt := nic.NewRingTransport(drv, 8)
		dev := nic.NewDeviceAdapter(rt)
		Expect(eng.RegisterDevice(dev)).To(Succeed())

		p := pump.New(eng, table, pump.NotifierFunc(func(int) {}), 16, nil)
		srv := rpc.New(alwaysRunning{}, table, adapter, p, nil)

		hA, err := srv.Create(1, socktable.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Bind(1, hA, "0.0.0.0:7")).To(Succeed())
		Expect(srv.Listen(1, hA, 4)).To(Succeed())

		drv.QueueFrame([]byte("syn"))
		Expect(p.Tick()).To(Succeed())

		Eventually(func() int {
			st, err := srv.GetStatus(1, hA)
			Expect(err).NotTo(HaveOccurred())
			return st.PendingConnections
		}, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))

		hC, _, err := srv.Accept(1, hA)
		Expect(err).NotTo(HaveOccurred())

		err = srv.Close(2, hC)
		Expect(errkind.InvalidHandle.Is(err)).To(BeTrue())

		_, err = srv.GetStatus(1, hC)
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("NIC NOT_IMPLEMENTED fallback", func() {
	It("falls back to legacy ring polling and still surfaces a READ event", func() {
		table := socktable.New(4, []socktable.Client{
			{ClientID: 1, InUse: true, SocketQuota: 2},
		})
		eng := fake.New()
		adapter := engine.NewAdapter(table, eng)
		eng.SetCallbacks(adapter.OnReadable, adapter.OnAcceptReady)

		drv := nicfake.New().WithNotImplementedOnce()
		rt := nic.NewRingTransport(drv, 8)
		dev := nic.NewDeviceAdapter(rt)
		Expect(eng.RegisterDevice(dev)).To(Succeed())

		p := pump.New(eng, table, pump.NotifierFunc(func(int) {}), 16, nil)
		srv := rpc.New(alwaysRunning{}, table, adapter, p, nil)

		hA, err := srv.Create(1, socktable.Dgram)
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Bind(1, hA, "0.0.0.0:9001")).To(Succeed())

		rt.DeliverLegacyFrame(0, []byte("legacy-frame"))
		Expect(p.Tick()).To(Succeed())

		Eventually(func() int {
			recs, err := srv.GetPendingEvents(1, 100, 4096)
			Expect(err).NotTo(HaveOccurred())
			return len(recs)
		}, time.Second, 10*time.Millisecond).Should(Equal(1))
	})
})
