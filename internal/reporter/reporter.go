// Package reporter publishes clearing results and session errors outside the
// process. Every reporter must return quickly: they are called while the
// auction holds its lock.
package reporter

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/engine"
)

const (
	EventClearing = "clearing"
	EventError    = "error"
)

// Event is the wire form of a report.
type Event struct {
	Type      string    `json:"type"`
	Asset     AssetID   `json:"asset,omitempty"`
	OrderBook BookKind  `json:"orderBook"`
	Session   uint64    `json:"session"`
	Price     float64   `json:"price,omitempty"`
	Volume    uint64    `json:"volume,omitempty"`
	Fills     []Fill    `json:"fills,omitempty"`
	Source    string    `json:"source,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func ClearingEvent(r engine.ClearingReport) Event {
	return Event{
		Type:      EventClearing,
		Asset:     r.Asset,
		OrderBook: r.BookKind,
		Session:   r.Session,
		Price:     r.Price,
		Volume:    r.Volume,
		Fills:     r.Fills,
		Timestamp: r.Timestamp,
	}
}

func ErrorEvent(source string, err error) Event {
	return Event{
		Type:      EventError,
		Source:    source,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// Reporter matches auction.Reporter.
type Reporter interface {
	ReportClearing(report engine.ClearingReport) error
	ReportError(source string, err error) error
}

// Log writes reports to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) ReportClearing(r engine.ClearingReport) error {
	l.log.Info().
		Uint32("asset", uint32(r.Asset)).
		Stringer("book", r.BookKind).
		Uint64("session", r.Session).
		Float64("price", r.Price).
		Uint64("volume", r.Volume).
		Int("fills", len(r.Fills)).
		Msg("clearing")
	return nil
}

func (l *Log) ReportError(source string, err error) error {
	l.log.Warn().Err(err).Str("source", source).Msg("session error")
	return nil
}

// Multi fans a report out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) ReportClearing(r engine.ClearingReport) error {
	var errs []error
	for _, rep := range m {
		errs = append(errs, rep.ReportClearing(r))
	}
	return errors.Join(errs...)
}

func (m Multi) ReportError(source string, err error) error {
	var errs []error
	for _, rep := range m {
		errs = append(errs, rep.ReportError(source, err))
	}
	return errors.Join(errs...)
}
