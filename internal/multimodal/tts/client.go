package tts

import (
	"context"
	"errors"
	"io"
)

// Client runs a synthesis and reduces the engine's stream to an Outcome.
type Client struct {
	engine   Engine
	localize Localizer
}

type ClientOption func(*Client)

// WithLocalizer translates engine-reported and no-result messages.
func WithLocalizer(l Localizer) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.localize = l
		}
	}
}

func NewClient(engine Engine, opts ...ClientOption) *Client {
	c := &Client{engine: engine, localize: identity}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.engine.Name() }

// Synthesize never fails for engine-reported errors; those come back in
// Outcome.Err. The returned error is always a *TransportError.
func (c *Client) Synthesize(ctx context.Context, text string, ref *VoiceReference, params Params) (*Outcome, error) {
	req := Request{Text: text, Params: params}
	if ref != nil {
		req.References = []VoiceReference{*ref}
	}

	stream, err := c.engine.Inference(ctx, req)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, &TransportError{Err: err}
	}

	return Scan(ctx, stream, c.localize)
}

// Scan reads events in order until the first terminal one. A final event
// yields its audio, an error event its localized message; other codes are
// skipped. An exhausted stream yields a *NoResultError outcome.
func Scan(ctx context.Context, stream EventStream, localize Localizer) (*Outcome, error) {
	defer stream.Close()
	if localize == nil {
		localize = identity
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Err: err}
		}

		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return &Outcome{Err: &NoResultError{Message: localize(NoAudioMessage)}}, nil
		}
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		switch ev.Code {
		case CodeFinal:
			audio := ev.Audio
			if audio == nil {
				audio = []byte{}
			}
			return &Outcome{Audio: audio}, nil
		case CodeError:
			return &Outcome{Err: &ReportedError{Message: localize(ev.Message)}}, nil
		}
	}
}
