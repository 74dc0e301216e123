package scryfall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/resilience"
)

const boltJSON = `{
	"object": "card",
	"id": "e3285e6b-3e79-4d7c-bf96-d920f973b122",
	"name": "Lightning Bolt",
	"set": "2xm",
	"set_name": "Double Masters",
	"collector_number": "129",
	"rarity": "uncommon",
	"scryfall_uri": "https://scryfall.com/card/2xm/129/lightning-bolt",
	"prices": {"usd": "2.15", "usd_foil": "4.50", "eur": "1.90", "tix": "0.02"}
}`

func testClient(srv *httptest.Server, opts ...Option) Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithRateLimit(1000, 10),
		WithRetry(resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		}),
	}
	return NewClient(append(base, opts...)...)
}

func TestFetchOne_ByName(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/cards/named", r.URL.Path)
		assert.Equal(t, "Lightning Bolt", r.URL.Query().Get("exact"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "cardwatch-test", r.Header.Get("User-Agent"))
		w.Write([]byte(boltJSON))
	}))
	defer srv.Close()

	client := testClient(srv, WithUserAgent("cardwatch-test"))
	got := client.FetchOne(context.Background(), model.ItemKey{Name: "Lightning Bolt"})

	require.Equal(t, model.LookupFound, got.Status)
	assert.True(t, got.Priced())
	assert.Equal(t, "Lightning Bolt", got.Item.Name)
	assert.Equal(t, "e3285e6b-3e79-4d7c-bf96-d920f973b122", got.Item.ExternalID)
	assert.Equal(t, "2.15", got.Item.Price.Decimal.String())
	assert.Equal(t, model.PriceKindUSD, got.Item.PriceKind)
	assert.Equal(t, "Double Masters", got.Item.SetName)
	assert.Equal(t, "2xm", got.Item.SetCode)
	assert.Equal(t, "129", got.Item.CollectorNumber)
	assert.Equal(t, "uncommon", got.Item.Rarity)
}

func TestFetchOne_ByID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/e3285e6b-3e79-4d7c-bf96-d920f973b122", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(boltJSON))
	}))
	defer srv.Close()

	client := testClient(srv)
	got := client.FetchOne(context.Background(), model.ItemKey{
		Name:       "Lightning Bolt",
		ExternalID: "e3285e6b-3e79-4d7c-bf96-d920f973b122",
	})

	require.Equal(t, model.LookupFound, got.Status)
	assert.Equal(t, "Lightning Bolt", got.Item.Name)
}

func TestFetchOne_NotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","code":"not_found","status":404,"details":"No cards found matching \"Nope\""}`))
	}))
	defer srv.Close()

	client := testClient(srv)
	got := client.FetchOne(context.Background(), model.ItemKey{Name: "Nope"})

	assert.Equal(t, model.LookupNotFound, got.Status)
	assert.NoError(t, got.Err)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestFetchOne_ServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`internal error`))
	}))
	defer srv.Close()

	client := testClient(srv)
	got := client.FetchOne(context.Background(), model.ItemKey{Name: "Lightning Bolt"})

	assert.Equal(t, model.LookupUnavailable, got.Status)
	require.Error(t, got.Err)
	assert.Contains(t, got.Err.Error(), "500")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchOne_RetryRecovers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(boltJSON))
	}))
	defer srv.Close()

	client := testClient(srv)
	got := client.FetchOne(context.Background(), model.ItemKey{Name: "Lightning Bolt"})

	assert.Equal(t, model.LookupFound, got.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchOne_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	got := testClient(srv).FetchOne(context.Background(), model.ItemKey{Name: "Lightning Bolt"})
	assert.Equal(t, model.LookupUnavailable, got.Status)
	assert.Contains(t, got.Err.Error(), "decode card")
}

func TestFetchOne_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	client := testClient(srv, WithCircuitBreaker(cb))

	first := client.FetchOne(context.Background(), model.ItemKey{Name: "A"})
	assert.Equal(t, model.LookupUnavailable, first.Status)
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	second := client.FetchOne(context.Background(), model.ItemKey{Name: "B"})
	assert.Equal(t, model.LookupUnavailable, second.Status)
	assert.ErrorIs(t, second.Err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the server")
}

func TestFetchOne_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(boltJSON))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := testClient(srv).FetchOne(ctx, model.ItemKey{Name: "Lightning Bolt"})
	assert.Equal(t, model.LookupUnavailable, got.Status)
}

func TestFetchMany_MapsResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cards/collection", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req collectionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []identifier{
			{Name: "Delver of Secrets"},
			{ID: "e3285e6b-3e79-4d7c-bf96-d920f973b122"},
			{Name: "Nope"},
		}, req.Identifiers)

		w.Write([]byte(`{
			"object": "list",
			"not_found": [{"name": "Nope"}],
			"data": [
				` + boltJSON + `,
				{"id": "d1", "name": "Delver of Secrets // Insectile Aberration",
				 "prices": {"usd": null, "usd_foil": "3.00", "eur": "0.40"}}
			]
		}`))
	}))
	defer srv.Close()

	got := testClient(srv).FetchMany(context.Background(), []model.ItemKey{
		{Name: "Delver of Secrets"},
		{Name: "Lightning Bolt", ExternalID: "e3285e6b-3e79-4d7c-bf96-d920f973b122"},
		{Name: "Nope"},
	})

	require.Len(t, got, 3)
	assert.Equal(t, model.LookupFound, got[0].Status)
	assert.Equal(t, "d1", got[0].Item.ExternalID)
	assert.Equal(t, model.PriceKindUSDFoil, got[0].Item.PriceKind)
	assert.Equal(t, "3", got[0].Item.Price.Decimal.String())

	assert.Equal(t, model.LookupFound, got[1].Status)
	assert.Equal(t, "Lightning Bolt", got[1].Item.Name)

	assert.Equal(t, model.LookupNotFound, got[2].Status)
}

func TestFetchMany_FailedChunkOnlyAffectsItsKeys(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var req collectionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Identifiers), 2)

		if n == 2 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"object":"error","details":"bad identifiers"}`))
			return
		}
		resp := collectionResponse{}
		for _, id := range req.Identifiers {
			usd := "1.00"
			resp.Data = append(resp.Data, card{ID: id.Name + "-id", Name: id.Name, Prices: prices{USD: &usd}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	keys := []model.ItemKey{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}, {Name: "E"}}
	got := testClient(srv, WithBatchSize(2)).FetchMany(context.Background(), keys)

	require.Len(t, got, 5)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, model.LookupFound, got[0].Status)
	assert.Equal(t, model.LookupFound, got[1].Status)
	assert.Equal(t, model.LookupUnavailable, got[2].Status)
	assert.Contains(t, got[2].Err.Error(), "bad identifiers")
	assert.Equal(t, model.LookupUnavailable, got[3].Status)
	assert.Equal(t, model.LookupFound, got[4].Status)
	assert.Equal(t, "E", got[4].Item.Name)
}

func TestFetchMany_Empty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	assert.Empty(t, testClient(srv).FetchMany(context.Background(), nil))
}

func TestSearch_LimitsResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/search", r.URL.Path)
		assert.Equal(t, "bolt", r.URL.Query().Get("q"))
		assert.Equal(t, "prints", r.URL.Query().Get("unique"))
		w.Write([]byte(`{"object":"list","has_more":false,"data":[` +
			boltJSON + `,` + boltJSON + `,` + boltJSON + `]}`))
	}))
	defer srv.Close()

	got, err := testClient(srv).Search(context.Background(), "bolt", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Lightning Bolt", got[0].Name)
}

func TestSearch_NoMatches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","code":"not_found","details":"Your query didn't match any cards."}`))
	}))
	defer srv.Close()

	got, err := testClient(srv).Search(context.Background(), "zzzz", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_BadQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"object":"error","code":"bad_request","details":"All of your terms were ignored."}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).Search(context.Background(), "is:", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "All of your terms were ignored.")
}
