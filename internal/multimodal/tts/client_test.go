package tts_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
)

type fakeEngine struct {
	events []tts.Event
	err    error
	got    tts.Request
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Inference(_ context.Context, req tts.Request) (tts.EventStream, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return tts.NewEventStream(f.events...), nil
}

type brokenStream struct {
	closed bool
}

func (s *brokenStream) Next() (tts.Event, error) { return tts.Event{}, errors.New("connection reset") }
func (s *brokenStream) Close() error            { s.closed = true; return nil }

func TestScan(t *testing.T) {
	cases := []struct {
		name      string
		events    []tts.Event
		wantAudio []byte
		wantErr   error
		wantMsg   string
	}{
		{
			name:      "final after header and segments",
			events:    []tts.Event{{Code: tts.CodeHeader}, {Code: tts.CodeSegment, Audio: []byte("s")}, {Code: tts.CodeFinal, Audio: []byte("wav")}},
			wantAudio: []byte("wav"),
		},
		{
			name:      "first terminal wins",
			events:    []tts.Event{{Code: tts.CodeFinal, Audio: []byte("one")}, {Code: tts.CodeError, Message: "late"}},
			wantAudio: []byte("one"),
		},
		{
			name:    "error event",
			events:  []tts.Event{{Code: tts.CodeSegment}, {Code: tts.CodeError, Message: "out of memory"}},
			wantMsg: "out of memory",
		},
		{
			name:    "unknown codes skipped until exhausted",
			events:  []tts.Event{{Code: "progress"}, {Code: tts.CodeHeader}},
			wantErr: tts.ErrNoResult,
			wantMsg: tts.NoAudioMessage,
		},
		{
			name:    "empty stream",
			wantErr: tts.ErrNoResult,
			wantMsg: tts.NoAudioMessage,
		},
		{
			name:      "final with no audio",
			events:    []tts.Event{{Code: tts.CodeFinal}},
			wantAudio: []byte{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tts.Scan(context.Background(), tts.NewEventStream(tc.events...), nil)
			if err != nil {
				t.Fatalf("Scan error: %v", err)
			}

			if tc.wantAudio != nil {
				if out.Err != nil {
					t.Fatalf("unexpected outcome error: %v", out.Err)
				}
				if out.Audio == nil || !bytes.Equal(out.Audio, tc.wantAudio) {
					t.Errorf("audio: got %q, want %q", out.Audio, tc.wantAudio)
				}
				return
			}

			if out.Audio != nil {
				t.Errorf("audio should be unset, got %q", out.Audio)
			}
			if out.Err == nil {
				t.Fatal("expected outcome error")
			}
			if tc.wantErr != nil && !errors.Is(out.Err, tc.wantErr) {
				t.Errorf("error: got %v, want %v", out.Err, tc.wantErr)
			}
			if out.Err.Error() != tc.wantMsg {
				t.Errorf("message: got %q, want %q", out.Err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestScan_ReadFailureIsTransport(t *testing.T) {
	stream := &brokenStream{}

	_, err := tts.Scan(context.Background(), stream, nil)

	var te *tts.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if !stream.closed {
		t.Error("stream was not closed")
	}
}

func TestScan_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tts.Scan(ctx, tts.NewEventStream(tts.Event{Code: tts.CodeFinal, Audio: []byte("x")}), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestClient_Localizes(t *testing.T) {
	zh := map[string]string{tts.NoAudioMessage: "未生成音频", "busy": "忙碌"}
	localize := func(msg string) string {
		if s, ok := zh[msg]; ok {
			return s
		}
		return msg
	}

	engine := &fakeEngine{}
	client := tts.NewClient(engine, tts.WithLocalizer(localize))

	out, err := client.Synthesize(context.Background(), "你好", nil, tts.DefaultChatParams())
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if out.Err == nil || out.Err.Error() != "未生成音频" {
		t.Errorf("no-result message: got %v", out.Err)
	}

	engine.events = []tts.Event{{Code: tts.CodeError, Message: "busy"}}
	out, err = client.Synthesize(context.Background(), "你好", nil, tts.DefaultChatParams())
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	var re *tts.ReportedError
	if !errors.As(out.Err, &re) || re.Message != "忙碌" {
		t.Errorf("reported message: got %v", out.Err)
	}
}

func TestClient_SendsReferenceAndParams(t *testing.T) {
	engine := &fakeEngine{events: []tts.Event{{Code: tts.CodeFinal, Audio: []byte("wav")}}}
	client := tts.NewClient(engine)
	ref := &tts.VoiceReference{Audio: []byte("sample"), Text: "transcript"}

	if _, err := client.Synthesize(context.Background(), "hello", ref, tts.DefaultNarrationParams()); err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}

	if engine.got.Text != "hello" {
		t.Errorf("text: got %s", engine.got.Text)
	}
	if len(engine.got.References) != 1 || engine.got.References[0].Text != "transcript" {
		t.Errorf("references: got %+v", engine.got.References)
	}
	if engine.got.ReferenceID != "" {
		t.Errorf("reference id: got %s, want empty", engine.got.ReferenceID)
	}
	if engine.got.Params.Seed == nil || *engine.got.Params.Seed != 0 {
		t.Errorf("seed: got %v, want 0", engine.got.Params.Seed)
	}
}

func TestClient_InferenceFailure(t *testing.T) {
	client := tts.NewClient(&fakeEngine{err: errors.New("dial tcp: refused")})

	_, err := client.Synthesize(context.Background(), "hello", nil, tts.DefaultChatParams())

	var te *tts.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
}
