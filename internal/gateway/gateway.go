// Package gateway implements the retry/streaming state machine that fronts
// both upstreams: Received → Classified → Attempting(i) → Streaming/Retry →
// Done. One Gateway is constructed per process and handles every request.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nullstream-labs/genai-rotator/internal/classify"
	"github.com/nullstream-labs/genai-rotator/internal/credstore"
	"github.com/nullstream-labs/genai-rotator/internal/lro"
	"github.com/nullstream-labs/genai-rotator/internal/rotate"
	"github.com/nullstream-labs/genai-rotator/internal/telemetry"
	"github.com/nullstream-labs/genai-rotator/internal/vertextoken"
	log "github.com/sirupsen/logrus"
)

// exhaustedBody is returned verbatim when every attempt in a retry loop is
// consumed without a non-retryable response.
const exhaustedBody = "All backends exhausted or unavailable"

// transportBackoff is the pause after a network-level failure, before the
// next rotation attempt.
const transportBackoff = 500 * time.Millisecond

// upstreamDeadline is generous enough to accommodate a Vertex video LRO
// start; there is no shorter per-attempt timeout.
const upstreamDeadline = 120 * time.Second

// Config is the subset of the process configuration the gateway needs.
type Config struct {
	GeminiBaseURL        string
	VertexBaseURL        string
	MaxRetries           int
	StoreRequestBodies   bool
	RetryableStatuses    map[int]bool
	StreamBufferCapBytes int64
	TrustProxyHeaders    bool
}

// Gateway wires together credential rotation, token caching, LRO affinity
// and telemetry into the single retry loop every request goes through.
type Gateway struct {
	cfg Config

	geminiRotator *rotate.GeminiRotator
	vertexRotator *rotate.VertexRotator
	tokens        *vertextoken.Cacher
	lroCache      *lro.Cache
	recorder      *telemetry.Recorder

	client *http.Client
}

// New constructs a Gateway. httpClient, if nil, gets a client tuned for a
// proxy fronting many upstream hosts: a deep idle-connection pool shared
// across all requests.
func New(cfg Config, geminiRotator *rotate.GeminiRotator, vertexRotator *rotate.VertexRotator, tokens *vertextoken.Cacher, lroCache *lro.Cache, recorder *telemetry.Recorder, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Gateway{
		cfg:           cfg,
		geminiRotator: geminiRotator,
		vertexRotator: vertexRotator,
		tokens:        tokens,
		lroCache:      lroCache,
		recorder:      recorder,
		client:        httpClient,
	}
}

// inflight tracks per-request state threaded through the retry loop.
type inflight struct {
	t0            time.Time
	provider      classify.Provider
	model         string
	action        string
	method        string
	path          string
	clientIP      string
	userAgent     string
	requestBody   []byte
	clientHeader  http.Header
	pinnedProject string
	pinned        bool
}

// Handle services one client request end to end, including the retry loop
// and telemetry enqueue. It never panics on upstream failure; every path
// ends in a response written to w.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	st := &inflight{t0: time.Now(), method: r.Method, path: trimLeadingSlash(r.URL.Path)}
	st.clientIP = classify.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-Ip"), g.cfg.TrustProxyHeaders)
	st.userAgent = r.Header.Get("User-Agent")
	st.clientHeader = classify.FilterUpstreamHeaders(r.Header)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	st.requestBody = body

	st.provider = classify.Classify(st.path)
	st.action = classify.ExtractAction(st.path)
	st.model = classify.ExtractModel(st.path)

	if st.provider == classify.ProviderVertex && st.action == classify.LongRunningPollAction {
		if projectID, ok := g.lookupLROAffinity(body); ok {
			st.pinned = true
			st.pinnedProject = projectID
		}
	}

	maxRetries := g.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}

	var lastResp *upstreamResult
	attempt := 0
	for attempt = 1; attempt <= maxRetries; attempt++ {
		res := g.attempt(r.Context(), st, attempt)
		lastResp = res

		if errors.Is(res.err, rotate.ErrPoolEmpty) {
			log.Warnf("gateway: %s credential pool is empty", st.provider)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(exhaustedBody))
			g.recordAttempt(st, attempt, http.StatusServiceUnavailable, true, res.err.Error())
			return
		}

		if res.err != nil {
			log.WithError(res.err).Warnf("gateway: attempt %d transport error (%s)", attempt, st.provider)
			g.recordAttempt(st, attempt, 0, true, res.err.Error())
			if st.pinned {
				break
			}
			time.Sleep(transportBackoff)
			continue
		}

		if g.cfg.RetryableStatuses[res.statusCode] {
			drained, _ := io.ReadAll(io.LimitReader(res.body, 1<<20))
			_ = res.body.Close()
			res.cancel()
			g.recordAttempt(st, attempt, res.statusCode, false, "")
			log.Warnf("gateway: attempt %d got retryable status %d from %s", attempt, res.statusCode, st.provider)
			if st.pinned {
				log.Warn("gateway: retryable status on LRO-pinned attempt, returning verbatim (affinity exhausted)")
				g.writeBuffered(w, res, drained, st, attempt)
				return
			}
			continue
		}

		g.finish(w, st, res, attempt)
		return
	}

	if lastResp != nil && lastResp.err == nil && !g.cfg.RetryableStatuses[lastResp.statusCode] {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(exhaustedBody))
	g.recordAttempt(st, attempt-1, http.StatusServiceUnavailable, true, exhaustedBody)
}

// upstreamResult is the outcome of one attempt, prior to the
// retry/streaming decision. cancel releases the attempt's deadline context
// and MUST be called once body (if any) is fully drained and closed.
type upstreamResult struct {
	statusCode int
	header     http.Header
	body       io.ReadCloser
	err        error
	keyID      string
	cancel     context.CancelFunc
}

// attempt builds and sends exactly one upstream request. The returned
// result's cancel func must be invoked by the caller once the response body
// (if any) has been fully consumed.
func (g *Gateway) attempt(ctx context.Context, st *inflight, attemptIndex int) *upstreamResult {
	ctx, cancel := context.WithTimeout(ctx, upstreamDeadline)

	var res *upstreamResult
	switch st.provider {
	case classify.ProviderGemini:
		res = g.attemptGemini(ctx, st)
	default:
		res = g.attemptVertex(ctx, st, attemptIndex)
	}
	res.cancel = cancel
	if res.body == nil {
		cancel()
	}
	return res
}

func (g *Gateway) attemptGemini(ctx context.Context, st *inflight) *upstreamResult {
	cred, err := g.geminiRotator.Next()
	if err != nil {
		return &upstreamResult{err: fmt.Errorf("gateway: %w", err)}
	}
	st.pinnedProject = "" // gemini never uses project affinity

	url := g.cfg.GeminiBaseURL + "/" + st.path
	req, err := http.NewRequestWithContext(ctx, st.method, url, bytes.NewReader(st.requestBody))
	if err != nil {
		return &upstreamResult{err: err}
	}
	req.Header = cloneHeader(st.clientHeader)
	q := req.URL.Query()
	q.Set("key", cred.APIKey)
	req.URL.RawQuery = q.Encode()

	resp, err := g.client.Do(req)
	if err != nil {
		return &upstreamResult{err: err, keyID: cred.KeyID}
	}
	return &upstreamResult{statusCode: resp.StatusCode, header: resp.Header, body: resp.Body, keyID: cred.KeyID}
}

func (g *Gateway) attemptVertex(ctx context.Context, st *inflight, attemptIndex int) *upstreamResult {
	var cred *credstore.VertexCredential
	usingPin := false
	if st.pinned && attemptIndex == 1 {
		if c, ok := g.vertexRotator.ByProjectID(st.pinnedProject); ok {
			cred = c
			usingPin = true
		}
	}
	if cred == nil {
		c, err := g.vertexRotator.Next()
		if err != nil {
			return &upstreamResult{err: fmt.Errorf("gateway: %w", err)}
		}
		cred = c
	}
	if st.pinned && !usingPin {
		// Affinity named a credential no longer in the pool; fall back
		// to rotation for the remainder of the loop.
		st.pinned = false
	}

	token, err := g.tokens.GetToken(ctx, cred.ProjectID, cred.ServiceAccountJSON)
	if err != nil {
		return &upstreamResult{err: fmt.Errorf("gateway: vertex token refresh: %w", err), keyID: cred.ProjectID}
	}

	rewritten, _ := classify.RewriteVertexPath(st.path, cred.ProjectID)
	url := g.cfg.VertexBaseURL + "/" + rewritten
	req, err := http.NewRequestWithContext(ctx, st.method, url, bytes.NewReader(st.requestBody))
	if err != nil {
		return &upstreamResult{err: err}
	}
	req.Header = cloneHeader(st.clientHeader)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Goog-User-Project", cred.ProjectID)

	resp, err := g.client.Do(req)
	if err != nil {
		return &upstreamResult{err: err, keyID: cred.ProjectID}
	}
	return &upstreamResult{statusCode: resp.StatusCode, header: resp.Header, body: resp.Body, keyID: cred.ProjectID}
}

// finish promotes a non-retryable upstream response to the client, either
// streamed or buffered depending on the action.
func (g *Gateway) finish(w http.ResponseWriter, st *inflight, res *upstreamResult, attemptIndex int) {
	if classify.IsStreamingAction(st.action) {
		g.streamToClient(w, st, res, attemptIndex)
		return
	}
	body, err := io.ReadAll(res.body)
	_ = res.body.Close()
	res.cancel()
	if err != nil {
		log.WithError(err).Warn("gateway: failed to read upstream body")
		g.recordAttempt(st, attemptIndex, res.statusCode, true, err.Error())
		return
	}
	g.writeBuffered(w, res, body, st, attemptIndex)

	if st.provider == classify.ProviderVertex && st.action == classify.LongRunningStartAction && res.statusCode == http.StatusOK {
		g.rememberLRO(body, res.keyID)
	}

	go g.enqueueTelemetry(st, attemptIndex, res, body, int64(len(body)))
}

func (g *Gateway) writeBuffered(w http.ResponseWriter, res *upstreamResult, body []byte, st *inflight, attemptIndex int) {
	out := classify.FilterResponseHeaders(res.header)
	for k, values := range out {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.statusCode)
	_, _ = w.Write(body)
}

// streamToClient forwards the upstream body chunk-by-chunk while
// simultaneously accumulating a capped copy for telemetry; the telemetry
// record is enqueued only after the last byte has reached the client.
func (g *Gateway) streamToClient(w http.ResponseWriter, st *inflight, res *upstreamResult, attemptIndex int) {
	out := classify.FilterResponseHeaders(res.header)
	for k, values := range out {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.statusCode)

	flusher, _ := w.(http.Flusher)
	bufferCap := g.cfg.StreamBufferCapBytes
	if bufferCap <= 0 {
		bufferCap = 4 << 20
	}
	acc := make([]byte, 0, 64*1024)
	truncated := false
	var totalSize int64

	buf := make([]byte, 32*1024)
	for {
		n, readErr := res.body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			totalSize += int64(n)
			_, _ = w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
			if !truncated {
				if int64(len(acc)+n) > bufferCap {
					acc = append(acc, chunk[:bufferCap-int64(len(acc))]...)
					truncated = true
				} else {
					acc = append(acc, chunk...)
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	_ = res.body.Close()
	res.cancel()

	if st.provider == classify.ProviderVertex && st.action == classify.LongRunningStartAction && res.statusCode == http.StatusOK {
		g.rememberLRO(acc, res.keyID)
	}

	go g.enqueueTelemetry(st, attemptIndex, res, acc, totalSize)
}

func (g *Gateway) rememberLRO(body []byte, projectID string) {
	name, ok := extractOperationName(body)
	if !ok {
		log.Warn("gateway: could not parse LRO operation name from predictLongRunning response")
		return
	}
	g.lroCache.Remember(name, projectID)
}

func (g *Gateway) lookupLROAffinity(requestBody []byte) (string, bool) {
	opName, ok := extractOperationNameFromRequest(requestBody)
	if !ok {
		return "", false
	}
	return g.lroCache.Lookup(opName)
}

func (g *Gateway) recordAttempt(st *inflight, attemptIndex, statusCode int, isErr bool, errDetail string) {
	rec := telemetry.AttemptRecord{
		Provider:     string(st.provider),
		Model:        st.model,
		Action:       st.action,
		Method:       st.method,
		Path:         st.path,
		ClientIP:     st.clientIP,
		UserAgent:    st.userAgent,
		StatusCode:   statusCode,
		LatencyMS:    time.Since(st.t0).Milliseconds(),
		AttemptIndex: attemptIndex,
		IsError:      isErr,
		ErrorDetail:  errDetail,
		RequestSize:  int64(len(st.requestBody)),
		CreatedAt:    time.Now(),
	}
	if g.cfg.StoreRequestBodies && isJSON(st.requestBody) {
		rec.RequestBody = st.requestBody
	}
	g.recorder.Enqueue(rec)
}

func (g *Gateway) enqueueTelemetry(st *inflight, attemptIndex int, res *upstreamResult, body []byte, responseSize int64) {
	contentEncoding := ""
	if res.header != nil {
		contentEncoding = res.header.Get("Content-Encoding")
	}
	prompt, candidates, total := telemetry.ParseUsage(contentEncoding, body)

	rec := telemetry.AttemptRecord{
		Provider:         string(st.provider),
		Model:            st.model,
		Action:           st.action,
		Method:           st.method,
		Path:             st.path,
		ClientIP:         st.clientIP,
		UserAgent:        st.userAgent,
		StatusCode:       res.statusCode,
		LatencyMS:        time.Since(st.t0).Milliseconds(),
		AttemptIndex:     attemptIndex,
		KeyID:            res.keyID,
		PromptTokens:     prompt,
		CandidatesTokens: candidates,
		TotalTokens:      total,
		RequestSize:      int64(len(st.requestBody)),
		ResponseSize:     responseSize,
		IsError:          res.statusCode >= 400,
		CreatedAt:        time.Now(),
	}
	if g.cfg.StoreRequestBodies {
		if isJSON(st.requestBody) {
			rec.RequestBody = st.requestBody
		}
		if isJSON(body) {
			rec.ResponseBody = body
		}
	}
	g.recorder.Enqueue(rec)
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

// cloneHeader returns a per-attempt copy of src so that Authorization/
// X-Goog-User-Project set on one retry's outbound request never leak into
// the next attempt's header set.
func cloneHeader(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, values := range src {
		out[k] = append([]string(nil), values...)
	}
	return out
}
