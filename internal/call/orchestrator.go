package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callbridge/internal/audio"
	"github.com/lexiqai/callbridge/internal/bargein"
	"github.com/lexiqai/callbridge/internal/config"
	"github.com/lexiqai/callbridge/internal/eventlog"
	"github.com/lexiqai/callbridge/internal/observability"
	"github.com/lexiqai/callbridge/internal/playback"
	"github.com/lexiqai/callbridge/internal/realtime"
	"github.com/lexiqai/callbridge/internal/reservation"
	"github.com/lexiqai/callbridge/internal/telephony"
	"github.com/lexiqai/callbridge/internal/tenantconfig"
)

const toolName = "finalize_reservation"

// inboundBufferBytes bounds the Call's inbound audio buffer, roughly 2
// seconds of µ-law audio at 8 bytes/ms, a ceiling against a stalled model
// write outpacing the carrier's frame rate.
const inboundBufferBytes = 16000

// transcriptLine is one entry in a call's append-only transcript.
type transcriptLine struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Deps are the process-wide collaborators every Call shares. Calls do not
// share mutable state with each other; these are read-only or internally
// synchronized.
type Deps struct {
	Config       *config.Config
	TenantLoader *tenantconfig.Loader
	Finalizer    *reservation.Finalizer
	ReservationStore interface {
		LinkCallLog(ctx context.Context, callID, callLogID string) (bool, error)
	}
	EventLogDir string
	Registry    *Registry
}

// Call owns the lifecycle of one inbound media stream.
type Call struct {
	deps Deps
	conn *telephony.Conn

	streamID string
	callID   string
	tenantID string

	client   *realtime.Client
	playback *playback.Tracker
	bargein  *bargein.Controller
	inbound  *audio.RingBuffer
	metrics  *observability.Metrics
	log      zerolog.Logger
	events   *eventlog.Sink

	fields        []tenantconfig.Field
	notif         tenantconfig.NotificationSettings
	answersSchema map[string]interface{}
	schema        *tenantconfig.CompiledSchema
	instructions  string

	mu               sync.Mutex
	phase            realtime.SessionPhase
	greeting         string
	greetingSentMs   int
	greetingCaptured bool
	reservationDone  bool
	transcript       []transcriptLine

	sessionReady     chan struct{}
	sessionReadyOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Call bound to one carrier connection. Start must be called
// once the carrier "start" event has been parsed.
func New(deps Deps, conn *telephony.Conn) *Call {
	return &Call{
		deps:         deps,
		conn:         conn,
		playback:     playback.New(),
		bargein:      bargein.New(deps.Config.BargeInDebounceMs, deps.Config.BargeInMinRemainMs),
		inbound:      audio.NewRingBuffer(inboundBufferBytes),
		phase:        realtime.PhaseGreeting,
		sessionReady: make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// Run drives the carrier read loop for the lifetime of the call: it blocks
// until the carrier closes the stream, sends "stop", or a fatal parse error
// occurs.
func (c *Call) Run() {
	for {
		ev, err := c.conn.ReadEvent()
		if err != nil {
			c.Close()
			return
		}

		switch ev.Event {
		case "connected":
			// nothing to do until "start"

		case "start":
			tenantID, _ := ev.Params["tenant_id"].(string)
			if err := c.start(ev.StreamSid, ev.CallSid, tenantID); err != nil {
				c.log.Error().Err(err).Msg("call failed to start")
				c.Close()
				return
			}

		case "media":
			c.OnCarrierMedia(ev.Payload)

		case "mark":
			c.OnCarrierMark(ev.MarkName)

		case "stop":
			c.OnCarrierStop()
			return

		default:
			// protocol error: unrecognized event already rejected by ReadEvent
		}
	}
}

// start registers the call, opens the model socket concurrently with
// loading tenant config, and fails closed if either misses the
// session-ready deadline.
func (c *Call) start(streamID, callID, tenantID string) error {
	c.streamID = streamID
	c.callID = callID
	c.tenantID = tenantID

	correlationID := observability.NewCorrelationID()
	c.log = observability.WithCorrelationID(correlationID).With().
		Str("call_id", callID).
		Str("stream_id", streamID).
		Str("tenant_id", tenantID).
		Logger()

	c.metrics = observability.NewCallMetrics(callID)
	c.metrics.RecordCallStart()

	events, err := eventlog.Open(fmt.Sprintf("%s/%s.ndjson", c.deps.EventLogDir, callID), streamID, callID)
	if err != nil {
		return fmt.Errorf("call: open event log: %w", err)
	}
	c.events = events
	c.events.Write("start", map[string]interface{}{"tenant_id": tenantID})

	c.deps.Registry.register(streamID, c)

	deadline := time.Duration(c.deps.Config.SessionReadyTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	client := realtime.NewClient(c.deps.Config.RealtimeURL, c.deps.Config.RealtimeAPIKey, c.deps.Config.RealtimeModel)
	c.wireCallbacks(client)
	c.client = client

	var connectErr, loadErr error
	var assembled tenantconfig.Assembled

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		connectErr = client.Connect()
	}()
	go func() {
		defer wg.Done()
		assembled, loadErr = c.deps.TenantLoader.Load(ctx, tenantID, time.Now())
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-ctx.Done():
		c.failSessionReady("session-ready deadline exceeded during connect/config load")
		return ctx.Err()
	}

	if connectErr != nil {
		c.failSessionReady("model socket connect failed")
		return connectErr
	}
	if loadErr != nil {
		c.failSessionReady("tenant config load failed")
		return loadErr
	}

	c.fields = assembled.Fields
	c.notif = assembled.Notifications
	c.answersSchema = assembled.AnswersSchema
	c.instructions = assembled.Instructions

	compiledSchema, err := tenantconfig.Compile(assembled.AnswersSchema)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to compile tenant answers schema, finalize will skip schema validation")
	} else {
		c.schema = compiledSchema
	}

	c.mu.Lock()
	c.greeting = assembled.Greeting
	c.mu.Unlock()

	c.metrics.RecordSessionUpdateSent()
	c.events.Write("session_update_sent", map[string]interface{}{"phase": "greeting"})
	if err := client.SendSessionUpdate(realtime.SessionConfig{
		Instructions: assembled.Instructions,
		Voice:        c.deps.Config.RealtimeVoice,
		ToolName:     toolName,
		ToolSchema:   assembled.AnswersSchema,
	}, realtime.PhaseGreeting); err != nil {
		c.failSessionReady("session.update send failed")
		return err
	}

	go c.awaitSessionReady(deadline)

	return nil
}

func (c *Call) awaitSessionReady(deadline time.Duration) {
	select {
	case <-c.sessionReady:
	case <-time.After(deadline):
		c.failSessionReady("session-ready deadline exceeded awaiting session.updated")
	case <-c.closed:
	}
}

func (c *Call) failSessionReady(reason string) {
	c.metrics.RecordSessionUpdateTimeout()
	c.events.Write("session_update_timeout", map[string]interface{}{"reason": reason})
	c.log.Warn().Str("reason", reason).Msg("session update timeout")
	c.Close()
}

func (c *Call) wireCallbacks(client *realtime.Client) {
	client.OnSessionUpdated = c.handleSessionUpdated
	client.OnSpeechStarted = c.handleSpeechStarted
	client.OnSpeechStopped = c.handleSpeechStopped
	client.OnAudioDelta = c.handleAudioDelta
	client.OnOutputItemAdded = c.handleOutputItemAdded
	client.OnUserTranscript = c.handleUserTranscript
	client.OnResponseDone = c.handleResponseDone
	client.OnError = c.handleModelError
	client.OnReadError = c.handleModelReadError

	c.bargein.OnOutcome = c.handleBargeInOutcome
	c.bargein.OnConfirm = c.handleBargeInConfirm
}

func (c *Call) handleSessionUpdated() {
	c.sessionReadyOnce.Do(func() {
		close(c.sessionReady)
		c.metrics.RecordSessionReady()
		c.events.Write("session_updated_received", nil)

		greeting := c.greetingText()
		if err := c.client.SendResponseCreate(greeting); err != nil {
			c.log.Error().Err(err).Msg("failed to send greeting response.create")
			return
		}
		c.events.Write("response_create_sent", map[string]interface{}{"kind": "greeting"})
	})
}

func (c *Call) greetingText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

func (c *Call) handleSpeechStarted() {
	c.events.Write("vad_event", map[string]interface{}{"type": "speech_started"})
	c.bargein.SpeechStarted(c.currentPhaseForBargein(), c.playback)
}

func (c *Call) handleSpeechStopped() {
	c.events.Write("vad_event", map[string]interface{}{"type": "speech_stopped"})
	c.bargein.SpeechStopped()
}

func (c *Call) currentPhaseForBargein() bargein.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == realtime.PhaseGreeting {
		return bargein.Greeting
	}
	return bargein.Normal
}

func (c *Call) handleBargeInOutcome(outcome bargein.Outcome) {
	c.metrics.RecordBargeIn(string(outcome))
	event := "barge_in_ignored"
	switch outcome {
	case bargein.OutcomeConfirmed:
		event = "barge_in_confirmed"
	case bargein.OutcomeCancelledSpeechStopped:
		event = "barge_in_cancelled"
	}
	c.events.Write(event, map[string]interface{}{"outcome": string(outcome)})
}

func (c *Call) handleBargeInConfirm() {
	playedMs := c.playback.BeginClearing()
	if err := c.conn.SendClear(); err != nil {
		c.log.Error().Err(err).Msg("failed to send clear to carrier")
	}
	itemID := c.playback.AssistantItemID()
	if err := c.client.Truncate(itemID, playedMs); err != nil {
		c.log.Error().Err(err).Msg("failed to send truncate to model")
	}
}

func (c *Call) handleAudioDelta(base64Audio string) {
	decoded, err := base64.StdEncoding.DecodeString(base64Audio)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to decode audio delta")
		return
	}

	if err := c.conn.SendMedia(base64Audio); err != nil {
		c.log.Error().Err(err).Msg("failed to forward audio to carrier")
		return
	}
	c.metrics.RecordPlaybackBytes("out", int64(len(decoded)))

	markName, _, ok := c.playback.AppendAudio(len(decoded))
	if ok {
		if err := c.conn.SendMark(markName); err != nil {
			c.log.Error().Err(err).Msg("failed to send mark to carrier")
		}
	}
}

func (c *Call) handleOutputItemAdded(itemID, role, itemType string) {
	if role == "assistant" && itemType == "message" {
		c.playback.Reset(itemID)
	}
}

func (c *Call) handleUserTranscript(text string) {
	if text == "" {
		return
	}
	c.appendTranscript("user", text)
	c.events.Write("user_utterance", map[string]interface{}{"text": text})
}

func (c *Call) handleResponseDone(assistantText string, calls []realtime.FunctionCall) {
	if assistantText != "" {
		c.appendTranscript("assistant", assistantText)
		c.events.Write("assistant_response", map[string]interface{}{"text": assistantText})
	}

	c.mu.Lock()
	phase := c.phase
	if phase == realtime.PhaseGreeting && !c.greetingCaptured {
		c.greetingSentMs = c.playback.SentMs()
		c.greetingCaptured = true
	}
	c.mu.Unlock()

	c.checkPhaseTransition()

	for _, fc := range calls {
		if fc.Name == toolName {
			c.handleFinalizeReservation(fc)
		}
	}
}

func (c *Call) appendTranscript(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, transcriptLine{Role: role, Text: text, Timestamp: time.Now().UTC()})
}

// checkPhaseTransition applies the greeting->normal trigger:
// playedMs >= 0.9 * greetingSentMs.
func (c *Call) checkPhaseTransition() {
	c.mu.Lock()
	if c.phase != realtime.PhaseGreeting || !c.greetingCaptured || c.greetingSentMs == 0 {
		c.mu.Unlock()
		return
	}
	threshold := int(0.9 * float64(c.greetingSentMs))
	if c.playback.PlayedMs() < threshold {
		c.mu.Unlock()
		return
	}
	c.phase = realtime.PhaseNormal
	c.mu.Unlock()

	if err := c.client.SendSessionUpdate(realtime.SessionConfig{
		Instructions: c.instructions,
		Voice:        c.deps.Config.RealtimeVoice,
		ToolName:     toolName,
		ToolSchema:   c.answersSchema,
	}, realtime.PhaseNormal); err != nil {
		c.log.Error().Err(err).Msg("failed to send session.update(normal)")
	}
	c.events.Write("session_update_sent", map[string]interface{}{"phase": "normal"})
}

func (c *Call) handleFinalizeReservation(fc realtime.FunctionCall) {
	ctx := context.Background()
	outcome := c.deps.Finalizer.Finalize(ctx, c.tenantID, c.callID, fc.Arguments, c.fields, c.schema, c.notif)

	resultJSON, err := json.Marshal(outcome)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to marshal finalize outcome")
		resultJSON = []byte(`{"ok":false,"error_type":"system"}`)
	}

	if outcome.OK {
		c.mu.Lock()
		c.reservationDone = true
		c.mu.Unlock()
	}

	errorType := string(outcome.ErrorType)
	outcomeLabel := "rejected"
	if outcome.OK {
		outcomeLabel = "ok"
		if outcome.Deduped {
			outcomeLabel = "deduped"
		}
	}
	c.metrics.RecordFinalizeOutcome(outcomeLabel, errorType)

	c.events.Write("tool_call", map[string]interface{}{
		"arguments": fc.Arguments,
		"result":    string(resultJSON),
		"call_id":   fc.CallID,
	})

	if err := c.client.SendFunctionCallOutput(fc.CallID, string(resultJSON)); err != nil {
		c.log.Error().Err(err).Msg("failed to send function_call_output")
	}
	c.events.Write("response_create_sent", map[string]interface{}{"kind": "tool_continuation"})
}

func (c *Call) handleModelError(code string, class realtime.ErrorClass, message string) {
	switch class {
	case realtime.ErrorClassBenign:
		c.log.Debug().Str("code", code).Str("message", message).Msg("benign model error")
	case realtime.ErrorClassBudget:
		c.log.Error().Str("code", code).Str("message", message).Msg("budget model error, ending call")
		c.events.Write("realtime_error", map[string]interface{}{"code": code, "message": message, "class": "budget"})
		c.Close()
	default:
		c.log.Error().Str("code", code).Str("message", message).Msg("model error")
		c.events.Write("realtime_error", map[string]interface{}{"code": code, "message": message, "class": "other"})
	}
}

func (c *Call) handleModelReadError(err error) {
	c.log.Warn().Err(err).Msg("model socket read error")
	c.events.Write("openai_ws_error", map[string]interface{}{"error": err.Error()})
	c.Close()
}

// OnCarrierMedia forwards a carrier audio frame to the model unmodified,
// passing it through the call's inbound audio buffer first so a momentarily
// slow model write never forces the carrier read loop to block or drop a
// frame outright.
func (c *Call) OnCarrierMedia(decoded []byte) {
	if c.client == nil {
		return
	}

	if n := c.inbound.Write(decoded); n < len(decoded) {
		c.log.Warn().Int("dropped_bytes", len(decoded)-n).Msg("inbound audio buffer overrun")
	}

	pending := make([]byte, c.inbound.Available())
	c.inbound.Read(pending)
	if len(pending) == 0 {
		return
	}

	base64Audio := base64.StdEncoding.EncodeToString(pending)
	if err := c.client.AppendAudio(base64Audio); err != nil {
		c.log.Error().Err(err).Msg("failed to forward audio to model")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordPlaybackBytes("in", int64(len(pending)))
	}
}

// OnCarrierMark forwards a playback acknowledgement to the playback tracker.
func (c *Call) OnCarrierMark(name string) {
	c.playback.AckMark(name)
	c.checkPhaseTransition()
}

// OnCarrierStop initiates graceful shutdown.
func (c *Call) OnCarrierStop() {
	c.events.Write("stop", nil)
	c.Close()
}

// Close performs an exactly-once shutdown: stop timers, close the model
// socket, persist linkage, flush the event log, release the registry entry.
func (c *Call) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.bargein.Shutdown()
		c.writeTimingSummary()

		if c.client != nil {
			c.client.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}

		c.linkReservation()

		if c.metrics != nil {
			c.metrics.RecordCallEnd()
		}
		if c.events != nil {
			c.events.Close()
		}
		if c.deps.Registry != nil && c.streamID != "" {
			c.deps.Registry.unregister(c.streamID)
		}
	})
}

func (c *Call) writeTimingSummary() {
	if c.events == nil {
		return
	}
	c.mu.Lock()
	lines := len(c.transcript)
	reservation := c.reservationDone
	c.mu.Unlock()

	c.events.Write("timing_summary", map[string]interface{}{
		"transcript_lines":     lines,
		"reservation_complete": reservation,
	})
}

func (c *Call) linkReservation() {
	if c.deps.ReservationStore == nil || c.callID == "" || c.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	linked, err := c.deps.ReservationStore.LinkCallLog(ctx, c.callID, c.callID)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to link reservation call log")
		return
	}
	if !linked {
		c.events.Write("reservation_not_created", map[string]interface{}{"call_id": c.callID})
	}
}
