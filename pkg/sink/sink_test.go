// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ============================================================
// Test Helpers
// ============================================================

func testRecord() Record {
	return Record{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Channel:   ChannelSerial,
		Raw:       map[string][]byte{"page 0x61": {0x80, 0x00, 0x4E, 0x01}},
		Values: decoding.Values{
			"61.2.105": {Key: "61.2.105", Label: "R1T", Kind: decoding.ValueFloat, Float: 33.4},
			"62.2.304": {Key: "62.2.304", Label: "Powerful DHW", Kind: decoding.ValueBool, Bool: true},
		},
		Status: map[string]string{"page 0x61": "ok"},
	}
}

type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Record
}

func (w *blockingWriter) Write(ctx context.Context, r Record) error {
	<-w.release
	w.mu.Lock()
	w.got = append(w.got, r)
	w.mu.Unlock()
	return nil
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics   []string
	payloads map[string][]byte
	fail     map[string]error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	if p.payloads == nil {
		p.payloads = make(map[string][]byte)
	}
	p.payloads[topic] = payload.([]byte)
	return &fakeToken{err: p.fail[topic]}
}

// ============================================================
// Buffered Tests
// ============================================================

func TestBuffered_SubmitNeverBlocks(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	b := NewBuffered(2, w, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Submit(testRecord())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full buffer")
	}
	if b.Dropped() != 3 {
		t.Errorf("expected 3 dropped records, got %d", b.Dropped())
	}
}

func TestBuffered_RunWritesAndFlushes(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	close(w.release)
	b := NewBuffered(8, w, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if !b.Submit(testRecord()) {
			t.Fatal("record dropped")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Written() != 3 {
		t.Errorf("expected 3 written after flush, got %d", b.Written())
	}
}

func TestBuffered_CountsFailures(t *testing.T) {
	b := NewBuffered(4, WriterFunc(func(context.Context, Record) error {
		return errors.New("disk full")
	}), zerolog.Nop())
	b.Submit(testRecord())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)
	if b.Failed() != 1 || b.Written() != 0 {
		t.Errorf("failed %d, written %d", b.Failed(), b.Written())
	}
}

func TestMultiWriter_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	ok := WriterFunc(func(context.Context, Record) error { calls++; return nil })
	bad := WriterFunc(func(context.Context, Record) error { calls++; return boom })

	err := MultiWriter{bad, ok}.Write(context.Background(), testRecord())
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected both writers called, got %d", calls)
	}
}

// ============================================================
// Writer Tests
// ============================================================

func TestCBORWriter_Stream(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCBORWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := w.Write(context.Background(), testRecord()); err != nil {
			t.Fatal(err)
		}
	}

	var got []StoredRecord
	err = ReadCBOR(&buf, func(r StoredRecord) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	rec := got[0]
	if !rec.Timestamp.Equal(testRecord().Timestamp) || rec.Channel != ChannelSerial {
		t.Errorf("header %v %q", rec.Timestamp, rec.Channel)
	}
	if v := rec.Values["61.2.105"]; v.Value != 33.4 || v.Label != "R1T" || v.Kind != "float" {
		t.Errorf("value %+v", v)
	}
	if v := rec.Values["62.2.304"]; v.Value != true {
		t.Errorf("bool value %+v", v)
	}
	if !bytes.Equal(rec.Raw["page 0x61"], []byte{0x80, 0x00, 0x4E, 0x01}) {
		t.Errorf("raw %v", rec.Raw)
	}
	if keys := rec.Keys(); len(keys) != 2 || keys[0] != "61.2.105" {
		t.Errorf("keys %v", keys)
	}
}

func TestMQTTWriter_Topics(t *testing.T) {
	pub := &fakePublisher{}
	w := NewMQTTWriter(pub, MQTTConfig{Topic: "altherma/"})

	if err := w.Write(context.Background(), testRecord()); err != nil {
		t.Fatal(err)
	}

	want := []string{"altherma/serial/61.2.105", "altherma/serial/62.2.304", "altherma/serial/status"}
	if strings.Join(pub.topics, ",") != strings.Join(want, ",") {
		t.Fatalf("topics %v", pub.topics)
	}

	var v struct {
		Label string  `json:"label"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(pub.payloads["altherma/serial/61.2.105"], &v); err != nil {
		t.Fatal(err)
	}
	if v.Label != "R1T" || v.Value != 33.4 {
		t.Errorf("payload %+v", v)
	}
}

func TestMQTTWriter_PublishError(t *testing.T) {
	boom := errors.New("not connected")
	pub := &fakePublisher{fail: map[string]error{"t/serial/62.2.304": boom}}
	w := NewMQTTWriter(pub, MQTTConfig{Topic: "t"})

	err := w.Write(context.Background(), testRecord())
	if !errors.Is(err, boom) {
		t.Errorf("expected publish error, got %v", err)
	}
	if len(pub.topics) != 3 {
		t.Errorf("remaining topics should still publish, got %v", pub.topics)
	}
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(zerolog.New(&buf))
	if err := w.Write(context.Background(), testRecord()); err != nil {
		t.Fatal(err)
	}

	var event struct {
		Channel string                 `json:"channel"`
		Values  map[string]interface{} `json:"values"`
		Status  map[string]string      `json:"status"`
	}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("bad log line %q: %v", buf.String(), err)
	}
	if event.Channel != ChannelSerial || event.Values["61.2.105"] != 33.4 || event.Status["page 0x61"] != "ok" {
		t.Errorf("event %+v", event)
	}
}
