// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"github.com/rs/zerolog"
)

// Config controls the poll engine
type Config struct {
	Protocol Protocol
	// Pages to poll each cycle. Defaults to every page of the table.
	Pages []byte

	Timeout    time.Duration
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Interval   time.Duration

	Logger zerolog.Logger

	// Transition is called on every exchange state change
	Transition func(page byte, from, to State)
	// OnResult is called with every completed cycle before it is submitted
	OnResult func(r *PollResult)
}

// Poller runs poll cycles over one serial port. Only one request is
// outstanding at a time.
type Poller struct {
	port   Port
	table  *definition.Table
	cfg    Config
	pages  []byte
	logger zerolog.Logger
	now    func() time.Time
}

// New validates cfg and creates a poller decoding with the serial entries
// of table
func New(port Port, table *definition.Table, cfg Config) (*Poller, error) {
	if port == nil {
		return nil, errors.New("serialproto: port is nil")
	}
	if table == nil {
		return nil, errors.New("serialproto: table is nil")
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, fmt.Errorf("serialproto: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("serialproto: timeout must be > 0")
	}
	if cfg.Attempts < 1 {
		return nil, errors.New("serialproto: attempts must be >= 1")
	}
	if cfg.Backoff < 0 || cfg.MaxBackoff < 0 {
		return nil, errors.New("serialproto: backoff must be >= 0")
	}

	serial := table.Channel(definition.SourcePage)
	pages := cfg.Pages
	if len(pages) == 0 {
		for _, src := range serial.Locations(definition.SourcePage) {
			pages = append(pages, byte(src.ID))
		}
	}
	if len(pages) == 0 {
		return nil, errors.New("serialproto: no pages to poll")
	}
	if !cfg.Protocol.LengthField {
		for _, page := range pages {
			if _, ok := cfg.Protocol.PayloadLengths[page]; !ok {
				return nil, fmt.Errorf("serialproto: page 0x%02X has no payload length", page)
			}
		}
	}

	return &Poller{
		port:   port,
		table:  serial,
		cfg:    cfg,
		pages:  pages,
		logger: cfg.Logger.With().Str("component", "poller").Logger(),
		now:    time.Now,
	}, nil
}

// Pages returns the pages polled each cycle, in order
func (p *Poller) Pages() []byte {
	return append([]byte(nil), p.pages...)
}

func (p *Poller) transition(page byte, from, to State) {
	p.logger.Trace().Uint8("page", page).Stringer("from", from).Stringer("to", to).Msg("state")
	if p.cfg.Transition != nil {
		p.cfg.Transition(page, from, to)
	}
}

// exchange sends one request and reads one response
func (p *Poller) exchange(page byte) ([]byte, error) {
	if err := p.port.ResetInputBuffer(); err != nil {
		return nil, &PortError{Op: "flush", Err: err}
	}

	request := p.cfg.Protocol.Request(page)
	if _, err := p.port.Write(request); err != nil {
		return nil, &PortError{Op: "write", Err: err}
	}
	p.logger.Debug().Str("frame", fmt.Sprintf("% X", request)).Msg("D<-C")
	p.transition(page, StateIdle, StateRequestSent)
	p.transition(page, StateRequestSent, StateAwaitingResponse)

	frame, headerLen, err := p.cfg.Protocol.ReadFrame(p.port, page, p.cfg.Timeout)
	if len(frame) > 0 {
		p.logger.Debug().Str("frame", fmt.Sprintf("% X", frame)).Msg("D->C")
	}
	if err != nil {
		p.transition(page, StateAwaitingResponse, StateRejected)
		return nil, err
	}

	p.transition(page, StateAwaitingResponse, StateValidating)
	payload, err := p.cfg.Protocol.Verify(page, frame, headerLen)
	if err != nil {
		p.transition(page, StateValidating, StateRejected)
		return nil, err
	}
	p.transition(page, StateValidating, StateAccepted)
	return payload, nil
}

func (p *Poller) backoff(retry int) time.Duration {
	d := p.cfg.Backoff
	for i := 1; i < retry && d > 0; i++ {
		d *= 2
		if p.cfg.MaxBackoff > 0 && d >= p.cfg.MaxBackoff {
			break
		}
	}
	if p.cfg.MaxBackoff > 0 && d > p.cfg.MaxBackoff {
		d = p.cfg.MaxBackoff
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollPage requests one page, retrying rejected responses. It returns the
// payload and the number of attempts made.
func (p *Poller) PollPage(ctx context.Context, page byte) ([]byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, p.backoff(attempt-1)); err != nil {
				return nil, attempt - 1, err
			}
		}

		payload, err := p.exchange(page)
		if err == nil {
			return payload, attempt, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, attempt, err
		}
		p.logger.Debug().Err(err).Uint8("page", page).Int("attempt", attempt).Msg("exchange rejected")
	}
	return nil, p.cfg.Attempts, lastErr
}

// PollOnce traverses every page once and decodes the accepted frames.
// A failing page is marked unavailable and the cycle continues. The error
// is non-nil only for port failures and cancellation; the partial result
// is returned alongside it.
func (p *Poller) PollOnce(ctx context.Context) (*PollResult, error) {
	res := newPollResult(p.now())

	for _, page := range p.pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, attempts, err := p.PollPage(ctx, page)
		res.Attempts[page] = attempts
		if err != nil {
			var perr *PortError
			if errors.As(err, &perr) {
				return res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Status[page] = StatusUnavailable
			res.PageErrors[page] = err
			p.logger.Warn().Err(err).Uint8("page", page).Int("attempts", attempts).Msg("page unavailable")
			continue
		}
		res.Frames[page] = PageFrame{Page: page, Data: data, Captured: p.now()}
		res.Status[page] = StatusOK
	}

	res.Values, res.DecodeErrors = decoding.Decode(res.RawFrames(), p.table)
	for _, derr := range res.DecodeErrors {
		src := derr.Entry.Source
		page := byte(src.ID)
		if _, captured := res.Frames[page]; !captured {
			continue
		}
		if errors.Is(derr, decoding.ErrNotAvailable) {
			continue
		}
		res.Status[page] = StatusPartial
	}

	return res, nil
}

// Run polls every Interval until ctx is done, submitting each completed
// cycle to out. Cancellation returns nil; a port failure is returned.
func (p *Poller) Run(ctx context.Context, out sink.Sink) error {
	if p.cfg.Interval <= 0 {
		return errors.New("serialproto: interval must be > 0")
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		res, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info().Msg("poller stopped")
				return nil
			}
			return err
		}

		p.logger.Info().
			Int("values", len(res.Values)).
			Int("pages", len(res.Frames)).
			Int("unavailable", len(res.PageErrors)).
			Msg("poll cycle complete")

		if p.cfg.OnResult != nil {
			p.cfg.OnResult(res)
		}
		if out != nil {
			out.Submit(res.Record())
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}
