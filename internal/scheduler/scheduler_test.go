package scheduler_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/substratai/substrat/internal/multiplexer"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/scheduler"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/pkg/types"
)

func newTestScheduler(maxSlots int) *scheduler.Scheduler {
	dir := GinkgoT().TempDir()
	store, err := sessionstore.New(dir)
	Expect(err).NotTo(HaveOccurred())

	mux := multiplexer.New(maxSlots, store, nil)

	registry := provider.NewRegistry()
	registry.Register(provider.NewMockProvider())

	sched := scheduler.New(dir, store, mux, registry)
	mux.SetLogger(sched)
	return sched
}

var _ = Describe("Scheduler", func() {
	var sched *scheduler.Scheduler

	BeforeEach(func() {
		sched = newTestScheduler(2)
	})

	Describe("CreateSession", func() {
		It("allocates an ACTIVE session with a live provider slot", func() {
			session, err := sched.CreateSession(context.Background(), "mock", "test-model", "be helpful")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.State).To(Equal(types.SessionActive))
		})
	})

	Describe("SendTurn", func() {
		It("returns the echoed response and logs turn.start/turn.complete", func() {
			session, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())

			response, err := sched.SendTurn(context.Background(), session.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(response).To(Equal("echo: hello"))

			entries, err := sched.ReadLog(session.ID)
			Expect(err).NotTo(HaveOccurred())
			var events []string
			for _, entry := range entries {
				events = append(events, entry.Event)
			}
			Expect(events).To(ContainElement(types.EventTurnStart))
			Expect(events).To(ContainElement(types.EventTurnComplete))
		})

		It("drains deferred work after a successful turn", func() {
			session, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())

			ran := false
			sched.Defer(func(ctx context.Context) error {
				ran = true
				return nil
			})

			_, err = sched.SendTurn(context.Background(), session.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeTrue())
		})

		It("re-acquires a session evicted in the background before sending", func() {
			a, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())
			_, err = sched.SendTurn(context.Background(), a.ID, "first")
			Expect(err).NotTo(HaveOccurred())

			b, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())
			_, err = sched.SendTurn(context.Background(), b.ID, "first")
			Expect(err).NotTo(HaveOccurred())

			c, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())

			response, err := sched.SendTurn(context.Background(), a.ID, "second")
			Expect(err).NotTo(HaveOccurred())
			Expect(response).To(Equal("echo: second"))
			_ = c
		})
	})

	Describe("TerminateSession", func() {
		It("removes the slot and marks the record TERMINATED", func() {
			session, err := sched.CreateSession(context.Background(), "mock", "test-model", "")
			Expect(err).NotTo(HaveOccurred())

			Expect(sched.TerminateSession(session.ID)).To(Succeed())

			_, err = sched.SendTurn(context.Background(), session.ID, "anything")
			Expect(err).To(HaveOccurred())
		})
	})
})
