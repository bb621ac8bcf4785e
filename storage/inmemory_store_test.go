package storage_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/calypso/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		store *storage.InmemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInmemoryStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("closes update channels", func() {
			updates, _ := store.ListenToUpdates()
			store.Close()

			Eventually(updates).Should(BeClosed())
		})

		It("rejects writes", func() {
			store.Close()
			Expect(errors.Is(store.Set(ctx, "foo", 1), storage.ErrClosed)).To(BeTrue())
		})
	})

	It("an empty inmemory store equals {}", func() {
		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			Expect(store.Set(ctx, "foo", "bar")).To(Succeed())

			Expect(store.Get(ctx, "foo")).To(Equal([]byte(`"bar"`)))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":"bar"}`))
		})

		It("addresses nested keys by path", func() {
			Expect(store.Set(ctx, "settings.general.version", "3.6.0")).To(Succeed())
			Expect(store.Set(ctx, "settings.wlan.hostname", "calypso")).To(Succeed())

			Expect(store.Get(ctx, "settings.general")).To(MatchJSON(`{"version":"3.6.0"}`))
		})

		It("reports missing keys", func() {
			_, err := store.Get(ctx, "nope")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("returns a copy of the value", func() {
			Expect(store.Set(ctx, "foo", "bar")).To(Succeed())

			value, err := store.Get(ctx, "foo")
			Expect(err).To(Succeed())
			value[1] = 'x'

			Expect(store.Get(ctx, "foo")).To(Equal([]byte(`"bar"`)))
		})
	})

	Describe("Delete()", func() {
		It("removes a key", func() {
			Expect(store.Set(ctx, "a.b", 1)).To(Succeed())
			Expect(store.Delete(ctx, "a.b")).To(Succeed())

			_, err := store.Get(ctx, "a.b")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("reports missing keys", func() {
			Expect(errors.Is(store.Delete(ctx, "a"), storage.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListenToUpdates()", func() {
		It("sends on the update channel when values are set", func() {
			updates, stop := store.ListenToUpdates()
			defer stop()

			Expect(store.Set(ctx, "foo", "bar")).To(Succeed())

			var update *storage.Update
			Eventually(updates).Should(Receive(&update))
			Expect(update).To(Equal(&storage.Update{Key: "foo", Value: []byte(`"bar"`)}))
		})

		It("sends deletions without a value", func() {
			Expect(store.Set(ctx, "foo", 1)).To(Succeed())

			updates, stop := store.ListenToUpdates()
			defer stop()

			Expect(store.Delete(ctx, "foo")).To(Succeed())

			var update *storage.Update
			Eventually(updates).Should(Receive(&update))
			Expect(update.Key).To(Equal("foo"))
			Expect(update.Value).To(BeNil())
		})

		It("fans out to every listener", func() {
			first, stopFirst := store.ListenToUpdates()
			defer stopFirst()
			second, stopSecond := store.ListenToUpdates()
			defer stopSecond()

			Expect(store.Set(ctx, "n", 7)).To(Succeed())

			Eventually(first).Should(Receive())
			Eventually(second).Should(Receive())
		})

		It("stops delivering once stopped", func() {
			updates, stop := store.ListenToUpdates()
			stop()
			stop()

			Expect(updates).To(BeClosed())
			Expect(store.Set(ctx, "foo", "bar")).To(Succeed())
		})

		It("gives up on a full listener when the context ends", func() {
			_, stop := store.ListenToUpdates()
			defer stop()

			for i := 0; i < storage.UpdateBufferSize; i++ {
				Expect(store.Set(ctx, "n", i)).To(Succeed())
			}

			sctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			Expect(store.Set(sctx, "n", -1)).To(MatchError(context.DeadlineExceeded))
		})
	})

	Describe("Restore()", func() {
		It("replaces the document", func() {
			Expect(store.Set(ctx, "foo", "bar")).To(Succeed())
			Expect(store.Restore([]byte(`{"a":1}`))).To(Succeed())

			Expect(store.Backup()).To(MatchJSON(`{"a":1}`))
		})
	})
})
