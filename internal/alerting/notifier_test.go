package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func candidate(location string, price, avg float64) domain.AlertCandidate {
	return domain.AlertCandidate{
		NormalizedRecord: domain.NormalizedRecord{
			SkyID:         strings.ToUpper(location[:2]),
			Location:      location,
			CheapestPrice: price,
			Timestamp:     "2025-03-01T10:30:00.123456",
		},
		AveragePrice: avg,
	}
}

func testAlert() Alert {
	return NewAlert("run-1", "", []domain.AlertCandidate{candidate("TEST", 34, 100)})
}

func TestRenderBodyKeepsCandidateOrder(t *testing.T) {
	body := RenderBody([]domain.AlertCandidate{
		candidate("Denmark", 10, 20),
		candidate("Albania", 1.5, 2.25),
	})

	want := "The following locations have flight deals:\n\n" +
		"Location: Denmark, Cheapest Price: $10.00, Average Price: $20.00\n" +
		"Location: Albania, Cheapest Price: $1.50, Average Price: $2.25\n"
	if body != want {
		t.Fatalf("unexpected body:\n%q\nwant:\n%q", body, want)
	}
}

func TestNewAlertDefaultsSubject(t *testing.T) {
	alert := testAlert()
	if alert.Subject != "Price Alert for Cheap Tickets" {
		t.Fatalf("subject = %q", alert.Subject)
	}
	if !strings.Contains(alert.Body, "Location: TEST, Cheapest Price: $34.00, Average Price: $100.00") {
		t.Fatalf("body missing candidate line: %q", alert.Body)
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("path should target sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.HasPrefix(received["text"], "Price Alert for Cheap Tickets\n\nThe following locations") {
		t.Fatalf("unexpected text: %q", received["text"])
	}
}

func TestTelegramNotifierTruncatesOnRuneBoundary(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	alert := testAlert()
	// One ASCII byte shifts every two-byte rune off the byte limit.
	alert.Body = "x" + strings.Repeat("é", telegramMaxText)

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), alert); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	text := received["text"]
	if !utf8.ValidString(text) {
		t.Fatalf("text is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(text); got != telegramMaxText {
		t.Fatalf("text has %d characters, want %d", got, telegramMaxText)
	}
	if !strings.HasSuffix(text, "é") {
		t.Fatalf("text should end on a whole character")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Fatalf("short text changed: %q", got)
	}
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("truncateRunes = %q, want %q", got, "hé")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false should fail with description, got %v", err)
	}
}

func TestEmailNotifierSendsMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	notifier := NewEmailNotifier(config.EmailConfig{
		Host: "smtp.example.com", Port: 587, Username: "user", Password: "pass",
		From: "alerts@example.com", To: "a@example.com, b@example.com",
	}, testLogger())
	notifier.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, auth, to, string(msg)
		return nil
	}

	if err := notifier.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("email notify should succeed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Fatal("auth should be set when username is configured")
	}
	if len(gotTo) != 2 || gotTo[1] != "b@example.com" {
		t.Fatalf("recipients = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Price Alert for Cheap Tickets\r\n") {
		t.Fatalf("missing subject header: %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "\r\n\r\nThe following locations have flight deals:\r\n\r\nLocation: TEST") {
		t.Fatalf("missing body: %q", gotMsg)
	}
}

func TestEmailNotifierRequiresRecipient(t *testing.T) {
	notifier := NewEmailNotifier(config.EmailConfig{Host: "localhost", Port: 25}, testLogger())
	notifier.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be attempted")
		return nil
	}

	if err := notifier.Notify(context.Background(), testAlert()); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifierPublishesPerCandidate(t *testing.T) {
	writer := &fakeWriter{}
	notifier := &KafkaNotifier{writer: writer, logger: testLogger()}

	alert := NewAlert("run-7", "", []domain.AlertCandidate{
		candidate("Denmark", 10, 20),
		candidate("Albania", 1, 2),
	})
	if err := notifier.Notify(context.Background(), alert); err != nil {
		t.Fatalf("kafka notify should succeed: %v", err)
	}
	if len(writer.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.msgs))
	}
	if string(writer.msgs[1].Key) != "Albania" {
		t.Fatalf("message key = %q", writer.msgs[1].Key)
	}

	var event candidateEvent
	if err := json.Unmarshal(writer.msgs[0].Value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.RunID != "run-7" || event.CheapestPrice != 10 || event.AveragePrice != 20 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

type recordingNotifier struct {
	name  string
	err   error
	calls int
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(context.Context, Alert) error {
	r.calls++
	return r.err
}

func TestMultiContinuesPastFailures(t *testing.T) {
	failing := &recordingNotifier{name: "email", err: errors.New("smtp down")}
	ok := &recordingNotifier{name: "telegram"}
	multi := NewMulti(testLogger(), failing, ok)

	results := map[string]error{}
	multi.OnResult(func(channel string, err error) { results[channel] = err })

	err := multi.Notify(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "email: smtp down") {
		t.Fatalf("expected joined email error, got %v", err)
	}
	if ok.calls != 1 {
		t.Fatal("second channel should still be called")
	}
	if results["telegram"] != nil || results["email"] == nil {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestNewBuildsConfiguredChannels(t *testing.T) {
	multi, err := New(config.AlertingConfig{
		Enabled:  true,
		Channels: []string{config.ChannelEmail, config.ChannelKafka},
		Kafka:    config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "alerts"},
	}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer multi.Close()
	if multi.Len() != 2 {
		t.Fatalf("expected 2 channels, got %d", multi.Len())
	}

	disabled, err := New(config.AlertingConfig{Enabled: false, Channels: []string{"pager"}}, testLogger())
	if err != nil || disabled.Len() != 0 {
		t.Fatalf("disabled alerting should build no channels: %v", err)
	}
}
