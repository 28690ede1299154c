package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "brokerguard/pkg/domain"
)

func TestWebhookSender(t *testing.T) {
	t.Run("retries until the endpoint accepts", func(t *testing.T) {
		var calls atomic.Int32
		var got webhookEnvelope
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		sender := NewWebhookSender(srv.URL, WithRetries(3, time.Millisecond))
		err := sender.SendAlert(context.Background(), Delivery{AlertID: "a1", Channel: ChannelSMS, Urgent: true})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, "alert", got.Kind)
		require.NotNil(t, got.Delivery)
		assert.True(t, got.Delivery.Urgent)
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sender := NewWebhookSender(srv.URL, WithRetries(2, time.Millisecond))
		err := sender.SendVerificationResult(context.Background(), id.NewBrokerID(), Outcome{Status: "VERIFIED"})
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})
}

type failingSender struct{ err error }

func (f failingSender) SendAlert(context.Context, Delivery) error { return f.err }
func (f failingSender) SendVerificationResult(context.Context, id.BrokerID, Outcome) error {
	return f.err
}

func TestMultiSender(t *testing.T) {
	boom := errors.New("boom")
	m := MultiSender{NewLogSender(nil), failingSender{err: boom}}

	assert.ErrorIs(t, m.SendAlert(context.Background(), Delivery{}), boom)
	assert.NoError(t, MultiSender{NewLogSender(nil)}.SendAlert(context.Background(), Delivery{}))
}
