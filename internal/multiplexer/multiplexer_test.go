package multiplexer_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/multiplexer"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/pkg/types"
)

type fakeSession struct {
	id        types.ID
	suspended bool
	stopped   bool
}

func (s *fakeSession) Send(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 1)
	out <- "ok"
	close(out)
	return out, nil
}

func (s *fakeSession) Suspend(ctx context.Context) ([]byte, error) {
	s.suspended = true
	return json.Marshal(map[string]string{"id": string(s.id)})
}

func (s *fakeSession) Stop() error {
	s.stopped = true
	return nil
}

type fakeProvider struct {
	restoreCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Create(ctx context.Context, model, systemPrompt string) (provider.ProviderSession, error) {
	return &fakeSession{}, nil
}

func (p *fakeProvider) Restore(ctx context.Context, state []byte) (provider.ProviderSession, error) {
	p.restoreCalls++
	var payload map[string]string
	_ = json.Unmarshal(state, &payload)
	return &fakeSession{id: types.ID(payload["id"])}, nil
}

func newSession(store *sessionstore.Store, id types.ID) *types.Session {
	s := &types.Session{ID: id, State: types.SessionActive, ProviderName: "fake", Model: "m", CreatedAt: types.Now()}
	Expect(store.Save(s)).To(Succeed())
	return s
}

var _ = Describe("Multiplexer", func() {
	var (
		store *sessionstore.Store
		mux   *multiplexer.Multiplexer
		prov  *fakeProvider
	)

	BeforeEach(func() {
		var err error
		store, err = sessionstore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		mux = multiplexer.New(2, store, nil)
		prov = &fakeProvider{}
	})

	Describe("Put", func() {
		It("inserts a session into held state", func() {
			id := types.NewID()
			Expect(mux.Put(context.Background(), id, &fakeSession{id: id})).To(Succeed())
			Expect(mux.Contains(id)).To(BeTrue())
		})

		It("evicts the LRU released entry when full", func() {
			idA, idB, idC := types.NewID(), types.NewID(), types.NewID()
			newSession(store, idA)
			newSession(store, idB)

			Expect(mux.Put(context.Background(), idA, &fakeSession{id: idA})).To(Succeed())
			Expect(mux.Put(context.Background(), idB, &fakeSession{id: idB})).To(Succeed())
			mux.Release(idA)

			Expect(mux.Put(context.Background(), idC, &fakeSession{id: idC})).To(Succeed())
			Expect(mux.Contains(idA)).To(BeFalse())
			Expect(mux.Contains(idB)).To(BeTrue())
			Expect(mux.Contains(idC)).To(BeTrue())

			evicted, err := store.Load(idA)
			Expect(err).NotTo(HaveOccurred())
			Expect(evicted.State).To(Equal(types.SessionSuspended))
		})

		It("fails with slots-exhausted when every slot is held", func() {
			idA, idB, idC := types.NewID(), types.NewID(), types.NewID()
			Expect(mux.Put(context.Background(), idA, &fakeSession{id: idA})).To(Succeed())
			Expect(mux.Put(context.Background(), idB, &fakeSession{id: idB})).To(Succeed())

			err := mux.Put(context.Background(), idC, &fakeSession{id: idC})
			Expect(coreerr.Is(err, coreerr.SlotsExhausted)).To(BeTrue())
		})
	})

	Describe("Acquire", func() {
		It("returns the cached session and moves it to held", func() {
			id := types.NewID()
			session := newSession(store, id)
			Expect(mux.Put(context.Background(), id, &fakeSession{id: id})).To(Succeed())
			mux.Release(id)

			ps, err := mux.Acquire(context.Background(), session, prov)
			Expect(err).NotTo(HaveOccurred())
			Expect(ps).NotTo(BeNil())
			Expect(prov.restoreCalls).To(Equal(0))
		})

		It("restores from provider_state when not cached", func() {
			id := types.NewID()
			session := newSession(store, id)
			session.ProviderState, _ = json.Marshal(map[string]string{"id": string(id)})

			ps, err := mux.Acquire(context.Background(), session, prov)
			Expect(err).NotTo(HaveOccurred())
			Expect(ps).NotTo(BeNil())
			Expect(prov.restoreCalls).To(Equal(1))
			Expect(mux.Contains(id)).To(BeTrue())
		})
	})

	Describe("Release and Remove", func() {
		It("Remove stops the session without persisting state", func() {
			id := types.NewID()
			fs := &fakeSession{id: id}
			Expect(mux.Put(context.Background(), id, fs)).To(Succeed())

			Expect(mux.Remove(id)).To(Succeed())
			Expect(fs.stopped).To(BeTrue())
			Expect(fs.suspended).To(BeFalse())
			Expect(mux.Contains(id)).To(BeFalse())
		})
	})
})
