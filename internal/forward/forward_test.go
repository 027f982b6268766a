package forward_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/forward"
	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/processor"
)

func testEvent() *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:              uuid.New(),
		Provider:        "ordersvc",
		ExternalEventID: "evt_1",
		Topic:           "order.created",
		RawPayload:      []byte(`{"id":"evt_1","type":"order.created"}`),
	}
}

func TestHandleForwardsPayload(t *testing.T) {
	event := testEvent()

	var received *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		body = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := forward.New(srv.URL, "outbound_secret", 2*time.Second, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), event))

	require.NotNil(t, received)
	assert.Equal(t, event.ID.String(), received.Header.Get("X-Gateway-Webhook-Id"))
	assert.Equal(t, "ordersvc", received.Header.Get("X-Gateway-Provider"))
	assert.Equal(t, "order.created", received.Header.Get("X-Gateway-Topic"))
	assert.Equal(t, event.RawPayload, body)

	mac := hmac.New(sha256.New, []byte("outbound_secret"))
	mac.Write(event.RawPayload)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), received.Header.Get("X-Gateway-Signature"))
}

func TestHandleOmitsSignatureWithoutSecret(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Gateway-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := forward.New(srv.URL, "", 2*time.Second, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), testEvent()))
	assert.Empty(t, signature)
}

func TestHandleClassifiesResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		permanent bool
	}{
		{name: "accepted", status: http.StatusAccepted, wantErr: false},
		{name: "server error is transient", status: http.StatusBadGateway, wantErr: true, permanent: false},
		{name: "rate limited is transient", status: http.StatusTooManyRequests, wantErr: true, permanent: false},
		{name: "request timeout is transient", status: http.StatusRequestTimeout, wantErr: true, permanent: false},
		{name: "bad request is permanent", status: http.StatusBadRequest, wantErr: true, permanent: true},
		{name: "unprocessable is permanent", status: http.StatusUnprocessableEntity, wantErr: true, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			h := forward.New(srv.URL, "", 2*time.Second, zap.NewNop())
			err := h.Handle(context.Background(), testEvent())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, processor.IsPermanent(err))
		})
	}
}

func TestHandleNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	h := forward.New(srv.URL, "", time.Second, zap.NewNop())
	err := h.Handle(context.Background(), testEvent())
	require.Error(t, err)
	assert.False(t, processor.IsPermanent(err))
}
