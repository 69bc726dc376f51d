package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/engine"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var report = engine.ClearingReport{
	Asset:    2,
	BookKind: Delayed,
	Session:  4,
	Matched:  true,
	Price:    12.5,
	Volume:   10,
	Fills: []Fill{
		{OrderID: 1, Owner: "a", Asset: 2, Side: Bid, Volume: 10, Quote: 125, Price: 12.5, Session: 4},
		{OrderID: 2, Owner: "b", Asset: 2, Side: Ask, Volume: 10, Quote: 125, Price: 12.5, Session: 4},
	},
	Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

func TestKafka(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, zerolog.Nop())

	require.NoError(t, k.ReportClearing(report))
	require.NoError(t, k.ReportError("alice", errors.New("bad ciphertext")))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "2", string(w.msgs[0].Key))
	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventClearing, ev.Type)
	assert.Equal(t, AssetID(2), ev.Asset)
	assert.Equal(t, 12.5, ev.Price)
	require.Len(t, ev.Fills, 2)
	assert.Equal(t, Ask, ev.Fills[1].Side)

	assert.Equal(t, "alice", string(w.msgs[1].Key))
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "bad ciphertext", ev.Error)

	w.err = errors.New("broker down")
	assert.Error(t, k.ReportClearing(report))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf))

	require.NoError(t, l.ReportClearing(report))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "clearing", line["message"])
	assert.Equal(t, "delayed", line["book"])
	assert.Equal(t, float64(2), line["fills"])
}

func TestMulti(t *testing.T) {
	ok := &fakeWriter{}
	broken := &fakeWriter{err: errors.New("broker down")}
	m := Multi{newKafka(broken, zerolog.Nop()), newKafka(ok, zerolog.Nop())}

	err := m.ReportClearing(report)
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.msgs, 1)
	assert.NoError(t, Multi{NewLog(zerolog.Nop())}.ReportError("x", errors.New("y")))
}
