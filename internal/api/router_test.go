package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikhilbhutani/voicebridge/internal/api"
	"github.com/nikhilbhutani/voicebridge/internal/api/handlers"
	"github.com/nikhilbhutani/voicebridge/internal/audit"
	"github.com/nikhilbhutani/voicebridge/internal/auth"
	"github.com/nikhilbhutani/voicebridge/internal/config"
	"github.com/nikhilbhutani/voicebridge/internal/conversation"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/stt"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
	"github.com/nikhilbhutani/voicebridge/internal/pipeline"
	"github.com/nikhilbhutani/voicebridge/internal/session"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakePipeline mimics the orchestrator's commit policy without remote calls.
type fakePipeline struct {
	transcript string
	stageErr   error
	synthErr   error
	block      chan struct{}
	entered    chan struct{}

	gotAudio stt.Audio
	gotText  string
	gotRef   *tts.VoiceReference
}

func (f *fakePipeline) Run(_ context.Context, h *conversation.History, audio stt.Audio) (*pipeline.Result, error) {
	f.gotAudio = audio
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	h.Append(conversation.RoleUser, f.transcript)
	if f.stageErr != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageReasoning, Err: f.stageErr}
	}
	h.Append(conversation.RoleAssistant, "reply to "+f.transcript)
	res := &pipeline.Result{RunID: "run-1", History: h, Reply: "reply to " + f.transcript}
	if f.synthErr != nil {
		res.Err = f.synthErr
	} else {
		res.Audio = []byte("RIFFreply")
	}
	return res, nil
}

func (f *fakePipeline) Narrate(_ context.Context, text string, ref *tts.VoiceReference) ([]byte, error) {
	f.gotText = text
	f.gotRef = ref
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return []byte("RIFFnarration"), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}, RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, p handlers.Pipeline, opts ...api.Option) (*httptest.Server, *session.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sessions := session.NewManager(time.Hour)
	health := handlers.NewHealthHandler()
	srv := httptest.NewServer(api.NewRouter(ctx, cfg, sessions, p, health, opts...).Setup())
	t.Cleanup(srv.Close)
	return srv, sessions
}

type sessionBody struct {
	ID      string              `json:"id"`
	History []conversation.Turn `json:"history"`
}

type turnBody struct {
	RunID   string              `json:"run_id"`
	History []conversation.Turn `json:"history"`
	Audio   []byte              `json:"audio"`
	Error   *string             `json:"error"`
}

func createSession(t *testing.T, srv *httptest.Server, body string) sessionBody {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/sessions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status: got %d, want 201", resp.StatusCode)
	}
	var s sessionBody
	json.NewDecoder(resp.Body).Decode(&s)
	return s
}

func postMultipartAudio(t *testing.T, url string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="audio"; filename="utt.wav"`},
		"Content-Type":        {"audio/wav"},
	})
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post turn: %v", err)
	}
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &fakePipeline{})

	s := createSession(t, srv, `{"system_prompt":"你是一个语音助手"}`)
	if len(s.History) != 1 || s.History[0].Role != conversation.RoleSystem {
		t.Errorf("seeded history: got %+v", s.History)
	}

	resp, _ := http.Get(srv.URL + "/api/v1/sessions/" + s.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status: got %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/sessions/"+s.ID, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status: got %d, want 204", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/api/v1/sessions/" + s.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", resp.StatusCode)
	}
}

func TestTurn_Success(t *testing.T) {
	p := &fakePipeline{transcript: "你好"}
	srv, _ := newTestServer(t, testConfig(), p)
	s := createSession(t, srv, "")

	resp := postMultipartAudio(t, srv.URL+"/api/v1/sessions/"+s.ID+"/turns", []byte("RIFFin"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var body turnBody
	json.NewDecoder(resp.Body).Decode(&body)
	if string(body.Audio) != "RIFFreply" {
		t.Errorf("audio: got %q", body.Audio)
	}
	if body.Error != nil {
		t.Errorf("error: got %q, want null", *body.Error)
	}
	if len(body.History) != 2 {
		t.Errorf("history length: got %d, want 2", len(body.History))
	}
	if string(p.gotAudio.Data) != "RIFFin" || p.gotAudio.ContentType != "audio/wav" {
		t.Errorf("audio passed to pipeline: got %+v", p.gotAudio)
	}
}

func TestTurn_RawAudioBody(t *testing.T) {
	p := &fakePipeline{transcript: "hi"}
	srv, _ := newTestServer(t, testConfig(), p)
	s := createSession(t, srv, "")

	resp, err := http.Post(srv.URL+"/api/v1/sessions/"+s.ID+"/turns", "audio/mpeg", bytes.NewBufferString("ID3"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if p.gotAudio.ContentType != "audio/mpeg" {
		t.Errorf("content type: got %s", p.gotAudio.ContentType)
	}
}

func TestTurn_RejectsNonAudio(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &fakePipeline{})
	s := createSession(t, srv, "")

	resp, _ := http.Post(srv.URL+"/api/v1/sessions/"+s.ID+"/turns", "text/plain", bytes.NewBufferString("hello"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestTurn_SynthesisErrorIsInBand(t *testing.T) {
	p := &fakePipeline{transcript: "hi", synthErr: &tts.ReportedError{Message: "engine overloaded"}}
	srv, _ := newTestServer(t, testConfig(), p)
	s := createSession(t, srv, "")

	resp := postMultipartAudio(t, srv.URL+"/api/v1/sessions/"+s.ID+"/turns", []byte("RIFF"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var body turnBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Audio != nil {
		t.Errorf("audio: got %q, want null", body.Audio)
	}
	if body.Error == nil || *body.Error != "engine overloaded" {
		t.Errorf("error: got %v", body.Error)
	}
	if len(body.History) != 2 {
		t.Errorf("history length: got %d, want 2", len(body.History))
	}
}

func TestTurn_StageFaultKeepsCommittedTurns(t *testing.T) {
	p := &fakePipeline{transcript: "hi", stageErr: errors.New("dialogue down")}
	srv, sessions := newTestServer(t, testConfig(), p)
	s := createSession(t, srv, "")

	resp := postMultipartAudio(t, srv.URL+"/api/v1/sessions/"+s.ID+"/turns", []byte("RIFF"))
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}
	if bytes.Contains(body, []byte("dialogue down")) {
		t.Errorf("fault cause leaked to client: %s", body)
	}

	sess, err := sessions.Get(s.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	turns := sess.Snapshot().Turns()
	if len(turns) != 1 || turns[0].Role != conversation.RoleUser {
		t.Errorf("history after fault: got %+v, want the user turn only", turns)
	}
}

func TestTurn_BusySessionConflicts(t *testing.T) {
	p := &fakePipeline{transcript: "hi", block: make(chan struct{}), entered: make(chan struct{})}
	srv, _ := newTestServer(t, testConfig(), p)
	s := createSession(t, srv, "")
	url := srv.URL + "/api/v1/sessions/" + s.ID + "/turns"

	first := make(chan int, 1)
	go func() {
		resp := postMultipartAudio(t, url, []byte("RIFF"))
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-p.entered

	resp := postMultipartAudio(t, url, []byte("RIFF"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second turn status: got %d, want 409", resp.StatusCode)
	}

	close(p.block)
	if code := <-first; code != http.StatusOK {
		t.Errorf("first turn status: got %d, want 200", code)
	}
}

func TestNarrate(t *testing.T) {
	p := &fakePipeline{}
	srv, _ := newTestServer(t, testConfig(), p)

	resp, _ := http.Post(srv.URL+"/api/v1/narrate", "application/json",
		bytes.NewBufferString(`{"text":"从前有座山","reference_audio":"UklGRg==","reference_text":"sample"}`))
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "audio/wav" {
		t.Errorf("content type: got %s", resp.Header.Get("Content-Type"))
	}
	if string(data) != "RIFFnarration" {
		t.Errorf("body: got %q", data)
	}
	if p.gotText != "从前有座山" {
		t.Errorf("text: got %s", p.gotText)
	}
	if p.gotRef == nil || string(p.gotRef.Audio) != "RIFF" || p.gotRef.Text != "sample" {
		t.Errorf("reference: got %+v", p.gotRef)
	}
}

func TestNarrate_Errors(t *testing.T) {
	p := &fakePipeline{synthErr: &tts.NoResultError{Message: tts.NoAudioMessage}}
	srv, _ := newTestServer(t, testConfig(), p)

	resp, _ := http.Post(srv.URL+"/api/v1/narrate", "application/json", bytes.NewBufferString(`{"text":"hi"}`))
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d, want 422", resp.StatusCode)
	}
	if body["error"] != tts.NoAudioMessage {
		t.Errorf("error: got %q", body["error"])
	}
	if p.gotRef != nil {
		t.Error("reference should be nil when none supplied")
	}

	resp, _ = http.Post(srv.URL+"/api/v1/narrate", "application/json", bytes.NewBufferString(`{"text":"  "}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank text status: got %d, want 400", resp.StatusCode)
	}
}

func TestAuth_SessionsScopedToSubject(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "s3cret"
	srv, _ := newTestServer(t, cfg, &fakePipeline{})
	signer := auth.NewJWTMiddleware("s3cret")

	token := func(sub string) string {
		tok, err := signer.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}})
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	do := func(method, path, tok string) *http.Response {
		req, _ := http.NewRequest(method, srv.URL+path, nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := do(http.MethodPost, "/api/v1/sessions", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", resp.StatusCode)
	}

	resp = do(http.MethodPost, "/api/v1/sessions", token("alice"))
	var s sessionBody
	json.NewDecoder(resp.Body).Decode(&s)
	resp.Body.Close()

	resp = do(http.MethodGet, "/api/v1/sessions/"+s.ID, token("bob"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other subject: got %d, want 404", resp.StatusCode)
	}

	resp = do(http.MethodGet, "/api/v1/sessions/"+s.ID, token("alice"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("owner: got %d, want 200", resp.StatusCode)
	}

	resp = do(http.MethodGet, "/healthz", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz without token: got %d, want 200", resp.StatusCode)
	}
}

type ownedRun struct {
	owner string
	row   audit.RunRow
}

// fakeRuns filters like audit.Service.ListRuns.
type fakeRuns struct {
	runs []ownedRun
	got  []audit.RunQuery
}

func (f *fakeRuns) ListRuns(_ context.Context, q audit.RunQuery) ([]audit.RunRow, error) {
	f.got = append(f.got, q)
	var out []audit.RunRow
	for _, r := range f.runs {
		if r.owner != q.Owner {
			continue
		}
		if q.SessionID != "" && (r.row.SessionID == nil || *r.row.SessionID != q.SessionID) {
			continue
		}
		out = append(out, r.row)
	}
	return out, nil
}

func TestRuns_ScopedToSubject(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "s3cret"
	aliceSession := "0b7e6b1c-3f0e-4b6a-9d55-6a3c1f2b9c10"
	runs := &fakeRuns{runs: []ownedRun{
		{owner: "alice", row: audit.RunRow{ID: "run-a", SessionID: &aliceSession, Outcome: "fault"}},
		{owner: "bob", row: audit.RunRow{ID: "run-b", Outcome: "ok"}},
	}}
	srv, _ := newTestServer(t, cfg, &fakePipeline{}, api.WithRunLister(runs))
	signer := auth.NewJWTMiddleware("s3cret")

	list := func(sub, query string) (int, []audit.RunRow) {
		tok, err := signer.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}})
		if err != nil {
			t.Fatal(err)
		}
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/runs"+query, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body struct {
			Runs []audit.RunRow `json:"runs"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body.Runs
	}

	status, got := list("alice", "")
	if status != http.StatusOK || len(got) != 1 || got[0].ID != "run-a" {
		t.Errorf("alice: got %d %+v, want only run-a", status, got)
	}

	status, got = list("bob", "?session_id="+aliceSession)
	if status != http.StatusOK || len(got) != 0 {
		t.Errorf("bob listing alice's session: got %d %+v, want no runs", status, got)
	}

	for _, q := range runs.got {
		if q.Owner == "" {
			t.Errorf("query without owner: %+v", q)
		}
	}

	status, _ = list("alice", "?session_id=not-a-uuid")
	if status != http.StatusBadRequest {
		t.Errorf("invalid session_id: got %d, want 400", status)
	}
	if len(runs.got) != 2 {
		t.Errorf("lister calls: got %d, want 2", len(runs.got))
	}
}

func TestReadyz(t *testing.T) {
	health := handlers.NewHealthHandler()
	health.AddCheck("database", func(context.Context) error { return nil })
	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	health.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Checks["database"] != "ok" || body.Checks["redis"] == "ok" {
		t.Errorf("checks: got %v", body.Checks)
	}
}
