package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

var _ = Describe("Server", func() {
	var (
		server *Server
		store  *testutils.MockStore
	)

	BeforeEach(func() {
		store = testutils.NewMockStore()
		embedder := testutils.NewMockEmbedder()
		completer := testutils.NewMockCompleter()
		events := testutils.NewMockPublisher()
		logger := zap.NewNop()

		server = NewServer(
			Config{ListenAddr: ":0"},
			memory.NewService(store, embedder, events, logger),
			recall.NewRetriever(store, embedder, completer, logger),
			maintenance.NewSweeper(store, maintenance.Config{}, events, logger),
			coreblock.NewConsolidator(store, completer, coreblock.Config{}, events, logger),
			logger,
		)
	})

	do := func(method, path string, body any) (*http.Response, map[string]any) {
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(raw)
		}
		req := httptest.NewRequest(method, path, reader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if len(raw) > 0 && raw[0] == '{' {
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		}
		return resp, decoded
	}

	It("responds to ping", func() {
		resp, _ := do(http.MethodGet, "/ping", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	Describe("POST /v1/memories", func() {
		It("saves a memory", func() {
			resp, body := do(http.MethodPost, "/v1/memories", memory.SaveRequest{
				Content: "likes hiking",
				Klass:   memory.KlassPreference,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["memory"]).NotTo(BeNil())
			Expect(store.Memories).To(HaveLen(1))
		})

		It("rejects an empty body", func() {
			resp, _ := do(http.MethodPost, "/v1/memories", memory.SaveRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("reports over-length content in the result, not the status", func() {
			resp, body := do(http.MethodPost, "/v1/memories", memory.SaveRequest{
				Content: strings.Repeat("x", memory.MaxContentChars+1),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["error"]).NotTo(BeEmpty())
			Expect(store.Memories).To(BeEmpty())
		})
	})

	Describe("PATCH /v1/memories/:id", func() {
		It("rejects a non-numeric id", func() {
			resp, _ := do(http.MethodPatch, "/v1/memories/abc", memory.UpdateRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("DELETE /v1/memories/:id", func() {
		It("reports a permission rejection in the result", func() {
			m := store.Seed(memory.Memory{
				Content:   "private fact",
				Klass:     memory.KlassFact,
				Source:    "aria",
				CreatedAt: time.Now(),
			})

			resp, body := do(http.MethodDelete, "/v1/memories/1?source=zoe", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["error"]).NotTo(BeEmpty())
			Expect(store.Memories[m.ID].TombstonedAt).To(BeNil())
		})

		It("tombstones and restores through the API", func() {
			m := store.Seed(memory.Memory{
				Content:   "temporary fact",
				Klass:     memory.KlassFact,
				Source:    "aria",
				CreatedAt: time.Now(),
			})

			resp, _ := do(http.MethodDelete, "/v1/memories/1?source=aria", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(store.Memories[m.ID].TombstonedAt).NotTo(BeNil())

			resp, _ = do(http.MethodPost, "/v1/memories/1/restore", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(store.Memories[m.ID].TombstonedAt).To(BeNil())
		})
	})

	Describe("GET /v1/memories/trash", func() {
		It("returns an empty list rather than null", func() {
			resp, body := do(http.MethodGet, "/v1/memories/trash", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 0))
			Expect(body["memories"]).To(BeEmpty())
			Expect(body["memories"]).NotTo(BeNil())
		})
	})

	Describe("POST /v1/recall", func() {
		It("requires a query", func() {
			resp, _ := do(http.MethodPost, "/v1/recall", recall.Request{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns recalled items", func() {
			store.Seed(memory.Memory{
				Content:   "likes hiking in the rain",
				Klass:     memory.KlassPreference,
				Embedding: []float32{0.1, 0.2, 0.3},
				CreatedAt: time.Now(),
			})

			resp, body := do(http.MethodPost, "/v1/recall", recall.Request{Query: "hiking"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 1))
		})
	})

	Describe("POST /v1/maintenance/sweep", func() {
		It("returns the sweep report", func() {
			resp, body := do(http.MethodPost, "/v1/maintenance/sweep", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKey("evicted"))
			Expect(body).To(HaveKey("merged"))
			Expect(body).To(HaveKey("reaped"))
		})
	})

	Describe("POST /v1/coreblocks/signals", func() {
		It("requires summary and assistant ids", func() {
			resp, _ := do(http.MethodPost, "/v1/coreblocks/signals", coreblock.SignalRequest{
				Summary: "talked about tea",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /v1/coreblocks", func() {
		It("returns an empty list rather than null", func() {
			resp, body := do(http.MethodGet, "/v1/coreblocks", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 0))
			Expect(body["blocks"]).NotTo(BeNil())
		})
	})
})
