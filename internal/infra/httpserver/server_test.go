package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"
	"solpay_relay/internal/service"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeRegistrar) Register(wallet, device string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{wallet, device})
}

func (f *fakeRegistrar) Registrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRegistrar) ActiveWatches() int { return 0 }

type fakeLister struct {
	wallet   string
	limit    int
	err      error
	outcomes map[domain.DeliveryOutcome]int64
}

func (f *fakeLister) CountByOutcome(ctx context.Context) (map[domain.DeliveryOutcome]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.outcomes, nil
}

func (f *fakeLister) ListPayments(ctx context.Context, wallet string, limit int) ([]domain.PaymentRecord, error) {
	f.wallet, f.limit = wallet, limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.PaymentRecord{{ID: 1, Wallet: wallet, AmountSOL: "0.5000", Outcome: domain.OutcomeDelivered}}, nil
}

func newTestServer(reg Registrar, payments PaymentHistory, metrics *infra.Metrics) *httptest.Server {
	sessions := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(":0", 0, reg, sessions, metrics, payments)
	return httptest.NewServer(s.Handler())
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   [2]string
	}{
		{
			name:       "new field name",
			body:       `{"walletAddress":"W1","deviceAddress":"D1"}`,
			wantStatus: http.StatusOK,
			wantCall:   [2]string{"W1", "D1"},
		},
		{
			name:       "legacy field name",
			body:       `{"walletAddress":"W1","nodeMCUAddress":"192.168.1.20"}`,
			wantStatus: http.StatusOK,
			wantCall:   [2]string{"W1", "192.168.1.20"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistrar{}
			server := newTestServer(reg, nil, nil)
			defer server.Close()

			resp, err := http.Post(server.URL+"/register", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body map[string]string
			json.NewDecoder(resp.Body).Decode(&body)
			if body["message"] != registeredMessage {
				t.Errorf("message = %q", body["message"])
			}
			if len(reg.calls) != 1 || reg.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%v]", reg.calls, tt.wantCall)
			}
		})
	}
}

func TestRegister_BadJSON(t *testing.T) {
	reg := &fakeRegistrar{}
	server := newTestServer(reg, nil, nil)
	defer server.Close()

	resp, err := http.Post(server.URL+"/register", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(reg.calls) != 0 {
		t.Error("registrar must not be called for an undecodable body")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := infra.NewMetrics()
	metrics.RecordNotification(true)
	metrics.RecordNoSession()
	reg := &fakeRegistrar{}
	reg.Register("W1", "D1")
	server := newTestServer(reg, nil, metrics)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if health.Status != "ok" || health.Registrations != 1 {
		t.Errorf("unexpected health %+v", health)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	var snap infra.MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snap.NotificationsQualified != 1 || snap.NoSession != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	t.Run("history enabled", func(t *testing.T) {
		history := &fakeLister{outcomes: map[domain.DeliveryOutcome]int64{
			domain.OutcomeDelivered: 3,
			domain.OutcomeNoSession: 1,
		}}
		server := newTestServer(&fakeRegistrar{}, history, nil)
		defer server.Close()

		resp, err := http.Get(server.URL + "/metrics")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body metricsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Outcomes[domain.OutcomeDelivered] != 3 || body.Outcomes[domain.OutcomeNoSession] != 1 {
			t.Errorf("outcomes = %v", body.Outcomes)
		}
	})

	t.Run("history error keeps counters", func(t *testing.T) {
		metrics := infra.NewMetrics()
		metrics.RecordNoSession()
		server := newTestServer(&fakeRegistrar{}, &fakeLister{err: errors.New("disk full")}, metrics)
		defer server.Close()

		resp, err := http.Get(server.URL + "/metrics")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body metricsResponse
		json.NewDecoder(resp.Body).Decode(&body)
		if body.NoSession != 1 || body.Outcomes != nil {
			t.Errorf("unexpected body %+v", body)
		}
	})
}

// stalledWatcher never finishes subscribing until its context ends.
type stalledWatcher struct{}

func (stalledWatcher) Watch(ctx context.Context, wallet string) (<-chan domain.BalanceChange, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type nopEnricher struct{}

func (nopEnricher) Enrich(ctx context.Context, change domain.BalanceChange) (domain.TransferEvent, error) {
	return domain.TransferEvent{}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, ev domain.TransferEvent) domain.DeliveryOutcome {
	return domain.OutcomeSkipped
}

func TestRegister_StalledLedgerStillReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := service.NewRegistrationService(ctx, service.NewSessionRegistry(),
		stalledWatcher{}, nopEnricher{}, nopDispatcher{}, nil)
	defer func() {
		cancel()
		svc.StopAll()
	}()

	server := newTestServer(svc, nil, nil)
	defer server.Close()

	client := &http.Client{Timeout: time.Second}
	resp, err := client.Post(server.URL+"/register", "application/json",
		strings.NewReader(`{"walletAddress":"W1","deviceAddress":"D1"}`))
	if err != nil {
		t.Fatalf("register should reply while the ledger stalls: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if svc.Registrations() != 1 {
		t.Errorf("Registrations = %d, want 1", svc.Registrations())
	}
}

func TestSessionRoute(t *testing.T) {
	server := newTestServer(&fakeRegistrar{}, nil, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("/ws should reach the session handler, got %d", resp.StatusCode)
	}
}

func TestPayments(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		server := newTestServer(&fakeRegistrar{}, nil, nil)
		defer server.Close()

		resp, err := http.Get(server.URL + "/payments/W1")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("list", func(t *testing.T) {
		lister := &fakeLister{}
		server := newTestServer(&fakeRegistrar{}, lister, nil)
		defer server.Close()

		resp, err := http.Get(server.URL + "/payments/W1?limit=5")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if lister.wallet != "W1" || lister.limit != 5 {
			t.Errorf("lister got wallet=%q limit=%d", lister.wallet, lister.limit)
		}
		var records []domain.PaymentRecord
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(records) != 1 || records[0].Outcome != domain.OutcomeDelivered {
			t.Errorf("unexpected records %+v", records)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		server := newTestServer(&fakeRegistrar{}, &fakeLister{}, nil)
		defer server.Close()

		resp, err := http.Get(server.URL + "/payments/W1?limit=abc")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("storage error", func(t *testing.T) {
		server := newTestServer(&fakeRegistrar{}, &fakeLister{err: errors.New("disk full")}, nil)
		defer server.Close()

		resp, err := http.Get(server.URL + "/payments/W1")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.StatusCode)
		}
	})
}
