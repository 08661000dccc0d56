package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"orderdesk-bot/internal/stories/dispatch"
	"orderdesk-bot/internal/stories/orders"

	"github.com/go-faster/jx"
)

const secret = "s3cret"

type fakeOrders struct {
	calls  []orders.Order
	result dispatch.Result
	err    error
}

func (f *fakeOrders) HandleOrderCreated(_ context.Context, o orders.Order) (dispatch.Result, error) {
	f.calls = append(f.calls, o)
	return f.result, f.err
}

func newServer(t *testing.T, o *fakeOrders) *httptest.Server {
	t.Helper()
	h := NewHandler(o, secret, 1024, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, key, body string) (int, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook/create-ticket", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set(SecretHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, decodeFlat(t, raw)
}

// decodeFlat reads a flat JSON object into strings; null becomes "null".
func decodeFlat(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			out[key] = s
			return err
		case jx.Bool:
			b, err := d.Bool()
			if b {
				out[key] = "true"
			} else {
				out[key] = "false"
			}
			return err
		case jx.Null:
			out[key] = "null"
			return d.Null()
		default:
			return d.Skip()
		}
	})
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

const validBody = `{"user_id":"123","order_id":"ord_abc123","total_paid":19.99,"discount_amount":5}`

func TestCreateTicket_Unauthorized(t *testing.T) {
	for _, key := range []string{"", "wrong"} {
		o := &fakeOrders{}
		srv := newServer(t, o)

		status, body := post(t, srv, key, validBody)
		if status != http.StatusUnauthorized || body["error"] == "" {
			t.Errorf("key %q: status = %d body = %v", key, status, body)
		}
		if len(o.calls) != 0 {
			t.Errorf("key %q: handler reached without a valid secret", key)
		}
	}
}

func TestCreateTicket_BadPayload(t *testing.T) {
	tests := map[string]string{
		"missing order_id": `{"user_id":"123"}`,
		"missing user_id":  `{"order_id":"ord_1"}`,
		"not an object":    `[1,2]`,
		"truncated":        `{"user_id":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			o := &fakeOrders{}
			srv := newServer(t, o)

			status, resp := post(t, srv, secret, body)
			if status != http.StatusBadRequest || resp["error"] == "" {
				t.Errorf("status = %d body = %v", status, resp)
			}
			if len(o.calls) != 0 {
				t.Error("handler reached with an invalid payload")
			}
		})
	}
}

func TestCreateTicket_TooLarge(t *testing.T) {
	srv := newServer(t, &fakeOrders{})
	body := `{"user_id":"123","order_id":"ord_1","product":"` + strings.Repeat("x", 2048) + `"}`

	status, _ := post(t, srv, secret, body)
	if status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", status)
	}
}

func TestCreateTicket_Success(t *testing.T) {
	o := &fakeOrders{result: dispatch.Result{ThreadID: "thread-9"}}
	srv := newServer(t, o)

	status, body := post(t, srv, secret, validBody)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if body["success"] != "true" || body["customerThreadId"] != "thread-9" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["pending"]; ok {
		t.Error("pending flag set for an opened thread")
	}
	if len(o.calls) != 1 || o.calls[0].TotalPaid != orders.MoneyFromFloat(19.99) {
		t.Errorf("calls = %+v", o.calls)
	}
}

func TestCreateTicket_Pending(t *testing.T) {
	srv := newServer(t, &fakeOrders{result: dispatch.Result{Pending: true}})

	status, body := post(t, srv, secret, validBody)
	if status != http.StatusOK || body["customerThreadId"] != "null" || body["pending"] != "true" {
		t.Errorf("status = %d body = %v", status, body)
	}
}

func TestCreateTicket_Failure(t *testing.T) {
	srv := newServer(t, &fakeOrders{err: errors.New("claim channel not found")})

	status, body := post(t, srv, secret, validBody)
	if status != http.StatusInternalServerError || body["error"] != "claim channel not found" {
		t.Errorf("status = %d body = %v", status, body)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &fakeOrders{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := decodeFlat(t, raw)

	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["timestamp"] != "2024-03-01T12:00:00Z" {
		t.Errorf("status = %d body = %v", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, &fakeOrders{})

	resp, err := http.Get(srv.URL + "/webhook/create-ticket")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
