package hangmon

import (
	"errors"
	"log"
	"time"

	"go.uber.org/mock/gomock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BackgroundHangMonitor", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		sink       *MockAlertSink
		port       chan Msg
		monitor    *BackgroundHangMonitor
		now        time.Time
		sent       []Alert
		sinkErr    error
	)

	activity := func(annotation HangAnnotation) {
		err := monitor.handleMsg(Msg{
			Component:  "Script",
			Type:       MsgNotifyActivity,
			Annotation: annotation,
		})
		Expect(err).ToNot(HaveOccurred())
	}

	wait := func() {
		err := monitor.handleMsg(Msg{
			Component: "Script",
			Type:      MsgNotifyWait,
		})
		Expect(err).ToNot(HaveOccurred())
	}

	checkpointAt := func(offset time.Duration) {
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
		monitor.checkpoint()
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		sink = NewMockAlertSink(mockCtrl)

		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		timeTeller.EXPECT().CurrentTime().
			DoAndReturn(func() time.Time { return now }).
			AnyTimes()

		sent = nil
		sinkErr = nil
		sink.EXPECT().Send(gomock.Any()).
			DoAndReturn(func(a Alert) error {
				sent = append(sent, a)
				return sinkErr
			}).
			AnyTimes()

		port = make(chan Msg)

		var err error
		monitor, err = NewBackgroundHangMonitor(
			port, sink, "Script",
			100*time.Millisecond, 500*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())

		monitor.WithTimeTeller(timeTeller)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should register the initial component at construction", func() {
		Expect(monitor.registry.Len()).To(Equal(1))

		comp := monitor.registry.components["Script"]
		Expect(comp.isWaiting).To(BeTrue())
		Expect(comp.transientHangTimeout).
			To(Equal(100 * time.Millisecond))
		Expect(comp.permanentHangTimeout).
			To(Equal(500 * time.Millisecond))
	})

	It("should refuse a duplicate registration without changing the registry",
		func() {
			err := monitor.RegisterComponent(
				"Script", time.Second, 2*time.Second)

			Expect(err).To(MatchError(ErrDuplicateComponent))
			Expect(monitor.registry.Len()).To(Equal(1))
		})

	It("should never alert for a waiting component", func() {
		checkpointAt(24 * time.Hour)

		Expect(sent).To(BeEmpty())
	})

	It("should leave the waiting state on an activity report", func() {
		activity("parsing")

		comp := monitor.registry.components["Script"]
		Expect(comp.isWaiting).To(BeFalse())
		Expect(comp.lastAnnotation).To(Equal(HangAnnotation("parsing")))
		Expect(comp.lastActivity).To(Equal(now))
	})

	It("should not clear alert-sent flags on an activity report", func() {
		activity("parsing")
		checkpointAt(150 * time.Millisecond)
		Expect(sent).To(HaveLen(1))

		activity("still parsing")

		comp := monitor.registry.components["Script"]
		Expect(comp.isWaiting).To(BeFalse())
		Expect(comp.sentTransientAlert).To(BeTrue())
	})

	It("should clear both alert-sent flags on a wait report", func() {
		activity("parsing")
		checkpointAt(600 * time.Millisecond)
		Expect(sent).To(HaveLen(1))

		wait()

		comp := monitor.registry.components["Script"]
		Expect(comp.isWaiting).To(BeTrue())
		Expect(comp.sentTransientAlert).To(BeFalse())
		Expect(comp.sentPermanentAlert).To(BeFalse())
	})

	It("should escalate from transient to permanent exactly once", func() {
		activity("parsing")

		checkpointAt(150 * time.Millisecond)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Kind).To(Equal(AlertTransient))
		Expect(sent[0].Component).To(Equal(ComponentID("Script")))
		Expect(sent[0].Annotation).To(Equal(HangAnnotation("parsing")))

		checkpointAt(300 * time.Millisecond)
		Expect(sent).To(HaveLen(1))

		checkpointAt(600 * time.Millisecond)
		Expect(sent).To(HaveLen(2))
		Expect(sent[1].Kind).To(Equal(AlertPermanent))
		Expect(sent[1].Annotation).To(Equal(HangAnnotation("parsing")))

		checkpointAt(900 * time.Millisecond)
		Expect(sent).To(HaveLen(2))
	})

	It("should emit only a permanent alert when already past both timeouts",
		func() {
			activity("parsing")

			checkpointAt(600 * time.Millisecond)

			Expect(sent).To(HaveLen(1))
			Expect(sent[0].Kind).To(Equal(AlertPermanent))

			comp := monitor.registry.components["Script"]
			Expect(comp.sentTransientAlert).To(BeFalse())
		})

	It("should not emit a transient alert after a permanent one in the same cycle",
		func() {
			activity("parsing")
			checkpointAt(600 * time.Millisecond)
			Expect(sent).To(HaveLen(1))

			checkpointAt(700 * time.Millisecond)
			checkpointAt(2 * time.Second)

			Expect(sent).To(HaveLen(1))
		})

	It("should regain alert eligibility after a new wait cycle", func() {
		activity("parsing")
		checkpointAt(150 * time.Millisecond)
		checkpointAt(600 * time.Millisecond)
		Expect(sent).To(HaveLen(2))

		wait()
		now = now.Add(time.Millisecond)
		activity("layout")

		checkpointAt(800 * time.Millisecond)
		Expect(sent).To(HaveLen(3))
		Expect(sent[2].Kind).To(Equal(AlertTransient))
		Expect(sent[2].Annotation).To(Equal(HangAnnotation("layout")))

		checkpointAt(1300 * time.Millisecond)
		Expect(sent).To(HaveLen(4))
		Expect(sent[3].Kind).To(Equal(AlertPermanent))
	})

	It("should reject messages for unknown components", func() {
		err := monitor.handleMsg(Msg{
			Component: "Layout",
			Type:      MsgNotifyActivity,
		})

		Expect(err).To(MatchError(ErrUnknownComponent))
		Expect(monitor.registry.Len()).To(Equal(1))
		Expect(monitor.registry.components["Script"].isWaiting).To(BeTrue())
	})

	It("should keep detecting hangs when the alert channel is closed", func() {
		alerts := make(chan Alert, 1)
		close(alerts)

		closedPort := make(chan Msg)
		m, err := NewBackgroundHangMonitor(
			closedPort, NewChannelSink(alerts), "Script",
			100*time.Millisecond, 500*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		m.WithTimeTeller(timeTeller)

		Expect(m.handleMsg(Msg{
			Component:  "Script",
			Type:       MsgNotifyActivity,
			Annotation: "parsing",
		})).To(Succeed())

		now = now.Add(150 * time.Millisecond)
		Expect(m.checkpoint).ToNot(Panic())

		Expect(m.registry.components["Script"].sentTransientAlert).
			To(BeTrue())
	})

	It("should keep the alert-sent flag when delivery fails", func() {
		sinkErr = errors.New("sink closed")
		activity("parsing")

		checkpointAt(150 * time.Millisecond)
		Expect(sent).To(HaveLen(1))
		Expect(monitor.registry.components["Script"].sentTransientAlert).
			To(BeTrue())

		checkpointAt(300 * time.Millisecond)
		Expect(sent).To(HaveLen(1))
	})

	It("should invoke alert hooks on the emitted alert", func() {
		var got []HookCtx
		monitor.AcceptHook(hookFunc(func(ctx HookCtx) {
			got = append(got, ctx)
		}))

		activity("parsing")
		checkpointAt(150 * time.Millisecond)

		Expect(got).To(HaveLen(2))
		Expect(got[0].Pos).To(Equal(HookPosAlert))
		Expect(got[0].Item.(Alert).Kind).To(Equal(AlertTransient))
		Expect(got[1].Pos).To(Equal(HookPosCheckpoint))

		statuses := got[1].Item.([]ComponentStatus)
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].SentTransientAlert).To(BeTrue())
	})
})

type hookFunc func(ctx HookCtx)

func (f hookFunc) Func(ctx HookCtx) {
	f(ctx)
}

var _ = Describe("BackgroundHangMonitor event loop", func() {
	var (
		port    chan Msg
		alerts  chan Alert
		monitor *BackgroundHangMonitor
		done    chan error
	)

	BeforeEach(func() {
		port = make(chan Msg)
		alerts = make(chan Alert, 16)

		var err error
		monitor, err = NewBackgroundHangMonitor(
			port, NewChannelSink(alerts), "Script",
			10*time.Millisecond, 50*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())

		monitor.
			WithPollInterval(time.Millisecond).
			WithLogger(log.New(GinkgoWriter, "hangmon: ", 0))

		done = make(chan error, 1)
		go func() {
			done <- monitor.Run()
		}()
	})

	It("should stop only when the inbound port closes", func() {
		Consistently(done, "30ms").ShouldNot(Receive())

		close(port)

		Eventually(done).Should(Receive(BeNil()))
	})

	It("should alert on a hang without any message traffic", func() {
		port <- Msg{
			Component:  "Script",
			Type:       MsgNotifyActivity,
			Annotation: "parsing",
		}

		var transient Alert
		Eventually(alerts, "1s").Should(Receive(&transient))
		Expect(transient.Kind).To(Equal(AlertTransient))
		Expect(transient.Annotation).To(Equal(HangAnnotation("parsing")))

		var permanent Alert
		Eventually(alerts, "1s").Should(Receive(&permanent))
		Expect(permanent.Kind).To(Equal(AlertPermanent))

		close(port)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should survive a message for an unknown component", func() {
		port <- Msg{Component: "Layout", Type: MsgNotifyActivity}

		Consistently(done, "10ms").ShouldNot(Receive())

		port <- Msg{
			Component:  "Script",
			Type:       MsgNotifyActivity,
			Annotation: "parsing",
		}
		Eventually(alerts, "1s").Should(Receive())

		close(port)
		Eventually(done).Should(Receive(BeNil()))
	})
})
