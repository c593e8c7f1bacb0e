package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/salon-voice-gateway/internal/audio"
	"github.com/lexiqai/salon-voice-gateway/internal/dialog"
	"github.com/lexiqai/salon-voice-gateway/internal/events"
	"github.com/lexiqai/salon-voice-gateway/internal/intent"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/speech"
)

// echoMinWords is the shortest transcript treated as the assistant's own
// voice. Shorter matches ("yes", "okay") are far more likely to be the caller.
const echoMinWords = 3

// frameLane runs VAD and buffering for one call and hands finished
// utterances to the turn lane. It never calls a backend.
func (m *Manager) frameLane(cs *callSession) {
	defer m.lanes.Done()
	for {
		select {
		case <-cs.ctx.Done():
			return
		case frame := <-cs.frames:
			var (
				pcm   []byte
				ready bool
			)
			live := cs.alive(func() {
				if err := m.c.Audio.ProcessAudioFrame(cs.id, frame); err != nil {
					if !errors.Is(err, audio.ErrEmptyFrame) {
						cs.logger.Warn().Err(err).Msg("Failed to process frame")
					}
					return
				}
				pcm, ready = m.c.Audio.Flush(cs.id)
			})
			if !live {
				return
			}
			if !ready {
				continue
			}
			select {
			case cs.turns <- turn{pcm: pcm}:
			default:
				observability.RecordDropped("utterance")
				cs.logger.Warn().Int("bytes", len(pcm)).Msg("Turn queue full, dropping utterance")
			}
		}
	}
}

// turnLane processes a call's turns one at a time, in order.
func (m *Manager) turnLane(cs *callSession) {
	defer m.lanes.Done()
	for {
		select {
		case <-cs.ctx.Done():
			return
		case t := <-cs.turns:
			m.runTurn(cs, t)
		}
	}
}

func (m *Manager) runTurn(cs *callSession, t turn) {
	ctx, cancel := context.WithTimeout(cs.ctx, m.cfg.TurnTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			cs.metrics.RecordError("panic", "session")
			cs.logger.Error().Interface("panic", r).Msg("Turn panicked")
		}
	}()

	if t.greet {
		m.greet(ctx, cs)
		return
	}
	m.handleUtterance(ctx, cs, t.pcm)
}

func (m *Manager) greet(ctx context.Context, cs *callSession) {
	var info dialog.CallInfo
	if !cs.alive(func() { info, _ = m.c.Dialog.GetCallInfo(cs.id) }) {
		return
	}
	m.speak(cs, m.responder.Respond(ctx, PromptGreeting, info))
	cs.alive(func() { m.setState(cs, dialog.StateListening) })
}

// handleUtterance runs one caller utterance through transcription, echo and
// repeat filtering, intent extraction and the dialog policy, then speaks the
// reply.
func (m *Manager) handleUtterance(ctx context.Context, cs *callSession, pcm []byte) {
	ev := m.c.Speech.TranscribeAudio(ctx, pcm, cs.id)
	observability.RecordTranscript(string(ev.Status))
	m.events.Emit(ctx, cs.id, events.Transcript, map[string]any{
		"text":       ev.Text,
		"confidence": ev.Confidence,
		"status":     string(ev.Status),
		"backend":    ev.Backend,
		"latency_ms": ev.Latency.Milliseconds(),
	})

	switch ev.Status {
	case speech.StatusSuppressed:
		return
	case speech.StatusUnavailable:
		m.respondUnheard(ctx, cs, PromptUnavailable)
		return
	}

	var (
		drop     string
		bargeIn  bool
		repeated bool
	)
	live := cs.alive(func() {
		if m.c.Dialog.GetDialogState(cs.id).Terminal() {
			drop = "closing"
			return
		}
		if m.c.Speaker.IsSpeechGateActive(cs.id) {
			if g, ok := m.c.Speaker.Gate(cs.id); ok && isEcho(ev.Text, g.Text) {
				drop = "echo"
				return
			}
			bargeIn = m.c.Speaker.ReleaseSpeechGate(cs.id, "")
		}
		if m.c.Dialog.ShouldSuppressDuplicate(cs.id, ev.Text) {
			drop = "duplicate"
			return
		}
		m.c.Dialog.AppendHistory(cs.id, ev.Text)
		repeated = m.c.Dialog.ShouldSuppressRepeatedUtterance(cs.id, ev.Text)
	})
	if !live {
		return
	}
	if bargeIn {
		m.bargeIn(ctx, cs)
	}
	if drop != "" {
		observability.RecordDropped(drop)
		cs.logger.Debug().Str("reason", drop).Str("text", ev.Text).Msg("Transcript dropped")
		return
	}
	if repeated {
		m.handoff(ctx, cs, "repeated_utterance", PromptHandoff)
		return
	}

	quick := m.c.Intent.ClassifyQuick(ev.Text)
	observability.RecordIntent(string(quick.Category), "quick")
	m.events.Emit(ctx, cs.id, events.QuickIntent, map[string]any{
		"category":   string(quick.Category),
		"confidence": quick.Confidence,
	})

	rec := m.c.Intent.ExtractIntent(ctx, ev.Text, cs.id)
	m.events.Emit(ctx, cs.id, events.Intent, map[string]any{
		"category":   string(rec.Category),
		"confidence": rec.Confidence,
		"source":     string(rec.Source),
		"urgent":     rec.Urgent,
		"handoff":    rec.Handoff,
	})

	var d decision
	if !cs.alive(func() { d = m.decide(cs, ev.Text, rec) }) {
		return
	}

	if d.handoffReason != "" {
		prompt := PromptHandoff
		if rec.Urgent {
			prompt = PromptUrgent
		}
		m.handoff(ctx, cs, d.handoffReason, prompt)
		return
	}
	if d.booked {
		m.events.Emit(ctx, cs.id, events.BookingConfirmed, map[string]any{
			"caller":         d.info.CallerNumber,
			"customer_name":  d.info.CustomerName,
			"service":        d.info.Service,
			"requested_time": d.info.RequestedTime,
			"notes":          d.info.Notes,
		})
		cs.logger.Info().Str("service", d.info.Service).Str("time", d.info.RequestedTime).Msg("Booking confirmed")
	}
	m.speak(cs, m.responder.Respond(ctx, d.prompt, d.info))
}

// decision is the dialog policy's verdict for one turn.
type decision struct {
	prompt        Prompt
	info          dialog.CallInfo
	handoffReason string
	booked        bool
}

// decide applies the dialog policy. It runs under the liveness lock.
func (m *Manager) decide(cs *callSession, text string, rec intent.Record) decision {
	state := m.c.Dialog.GetDialogState(cs.id)
	prev, _ := m.c.Dialog.GetCallInfo(cs.id)
	d := decision{info: m.c.Dialog.StoreCallInfo(cs.id, infoFromEntities(rec.Entities))}

	attempts := m.c.Dialog.ClarificationAttempts(cs.id)
	if m.c.Intent.ShouldHandoffToHuman(rec, attempts) {
		d.handoffReason = handoffReason(rec)
		return d
	}

	if state == dialog.StateConfirming {
		// A correction ("make it friday instead") reads as a no, but it
		// carries the answer, so confirm the amended booking.
		if bookingChanged(prev, d.info) && d.info.ReadyToConfirm() {
			cs.logger.Debug().Str("service", d.info.Service).Str("time", d.info.RequestedTime).Msg("Booking details corrected")
			d.prompt = PromptConfirmBooking
			return d
		}
		if yes, decided := confirmation(text); decided {
			if yes {
				m.c.Dialog.ResetClarificationAttempts(cs.id)
				d.booked = true
				d.prompt = PromptBooked
				m.setState(cs, dialog.StateClosing)
				return d
			}
			// A bare no counts against the clarification budget.
			if m.c.Dialog.ClarificationsExhausted(cs.id) {
				d.handoffReason = "clarifications_exhausted"
				return d
			}
			n := m.c.Dialog.IncrementClarificationAttempts(cs.id)
			cs.logger.Debug().Int("attempt", n).Msg("Caller declined booking")
			d.prompt = PromptChangeDetails
			return d
		}
	}

	if rec.Category == intent.CategoryUnknown || rec.Confidence < m.cfg.IntentMinConfidence {
		d.prompt, d.handoffReason = m.clarify(cs, PromptClarify)
		return d
	}

	m.c.Dialog.ResetClarificationAttempts(cs.id)
	switch rec.Category {
	case intent.CategoryBooking, intent.CategoryReschedule:
		if d.info.ReadyToConfirm() {
			d.prompt = PromptConfirmBooking
			m.setState(cs, dialog.StateConfirming)
		} else {
			d.prompt = PromptAskDetails
			m.setState(cs, dialog.StateListening)
		}
	case intent.CategoryCancel:
		d.prompt = PromptCancel
		m.setState(cs, dialog.StateListening)
	case intent.CategoryPricing:
		d.prompt = PromptPricing
		m.setState(cs, dialog.StateListening)
	case intent.CategoryHours:
		d.prompt = PromptHours
		m.setState(cs, dialog.StateListening)
	default:
		d.prompt = PromptGeneral
		m.setState(cs, dialog.StateListening)
	}
	return d
}

// clarify asks the caller to repeat, or escalates once clarifications run
// out. It runs under the liveness lock.
func (m *Manager) clarify(cs *callSession, p Prompt) (Prompt, string) {
	if m.c.Dialog.ClarificationsExhausted(cs.id) {
		return "", "clarifications_exhausted"
	}
	n := m.c.Dialog.IncrementClarificationAttempts(cs.id)
	m.setState(cs, dialog.StateClarifying)
	cs.logger.Debug().Int("attempt", n).Msg("Asking caller to clarify")
	return p, ""
}

// respondUnheard handles turns that produced no usable transcript.
func (m *Manager) respondUnheard(ctx context.Context, cs *callSession, p Prompt) {
	var (
		prompt Prompt
		reason string
		info   dialog.CallInfo
	)
	if !cs.alive(func() {
		prompt, reason = m.clarify(cs, p)
		info, _ = m.c.Dialog.GetCallInfo(cs.id)
	}) {
		return
	}
	if reason != "" {
		m.handoff(ctx, cs, reason, PromptHandoff)
		return
	}
	m.speak(cs, m.responder.Respond(ctx, prompt, info))
}

func (m *Manager) handoff(ctx context.Context, cs *callSession, reason string, p Prompt) {
	var info dialog.CallInfo
	if !cs.alive(func() {
		m.setState(cs, dialog.StateClosing)
		info, _ = m.c.Dialog.GetCallInfo(cs.id)
	}) {
		return
	}
	observability.RecordHandoff(reason)
	m.events.Emit(ctx, cs.id, events.Handoff, map[string]any{
		"reason": reason,
		"caller": info.CallerNumber,
	})
	cs.logger.Info().Str("reason", reason).Msg("Handing call to staff")
	m.speak(cs, m.responder.Respond(ctx, p, info))
}

func (m *Manager) bargeIn(ctx context.Context, cs *callSession) {
	observability.RecordSpeechGate("barge_in")
	if err := cs.outbound.Clear(ctx); err != nil {
		cs.logger.Warn().Err(err).Msg("Failed to clear playback on barge-in")
	}
	m.events.Emit(ctx, cs.id, events.BargeIn, nil)
	cs.logger.Debug().Msg("Caller barged in")
}

// speak synthesizes text, plays it and holds the speech gate until the
// telephony leg confirms playback or the estimate runs out. It runs on its
// own budget, not the turn's.
func (m *Manager) speak(cs *callSession, text string) {
	if text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(cs.ctx, m.cfg.SpeakTimeout)
	defer cancel()
	mulaw, err := m.c.Speaker.Synthesize(ctx, text, cs.id)
	if err != nil {
		cs.metrics.RecordError("synthesis", "speaker")
		cs.logger.Error().Err(err).Msg("Failed to synthesize reply")
		return
	}
	if !cs.alive(func() {}) {
		return
	}
	if err := cs.outbound.SendAudio(ctx, mulaw); err != nil {
		cs.metrics.RecordError("send_audio", "session")
		cs.logger.Warn().Err(err).Msg("Failed to send reply audio")
		return
	}
	cs.metrics.RecordAudioBytes("outbound", int64(len(mulaw)))

	mark := fmt.Sprintf("reply-%d", cs.markSeq.Add(1))
	var estimate time.Duration
	if !cs.alive(func() {
		estimate = m.c.Speaker.ActivateSpeechGate(cs.id, text, len(mulaw))
		m.c.Speaker.AwaitMark(cs.id, mark)
	}) {
		return
	}
	m.events.Emit(ctx, cs.id, events.SpeechGate, map[string]any{
		"text":        text,
		"mark":        mark,
		"estimate_ms": estimate.Milliseconds(),
	})
	if err := cs.outbound.SendMark(ctx, mark); err != nil {
		cs.logger.Warn().Err(err).Msg("Failed to send playback mark, gate falls back to estimate")
	}
}

// setState moves the dialog if the transition is allowed. It runs under the
// liveness lock.
func (m *Manager) setState(cs *callSession, to dialog.State) {
	from := m.c.Dialog.GetDialogState(cs.id)
	if !transitionAllowed(from, to) {
		cs.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Dialog transition refused")
		return
	}
	m.c.Dialog.SetDialogState(cs.id, to)
}

func infoFromEntities(e intent.Entities) dialog.CallInfo {
	return dialog.CallInfo{
		CustomerName:  e.CustomerName,
		Service:       e.Service,
		RequestedTime: e.RequestedTime,
		Notes:         e.Notes,
	}
}

// bookingChanged reports whether a turn altered a booking detail on file.
func bookingChanged(prev, cur dialog.CallInfo) bool {
	return prev.Service != cur.Service || prev.RequestedTime != cur.RequestedTime || prev.CustomerName != cur.CustomerName
}

func handoffReason(rec intent.Record) string {
	switch {
	case rec.Urgent:
		return "urgent"
	case rec.Category == intent.CategoryComplaint, rec.Category == intent.CategoryHumanRequest:
		return string(rec.Category)
	default:
		return "low_confidence"
	}
}

// isEcho reports whether transcript is the assistant's own reply picked up
// on the caller's leg: every transcript word occurs in the spoken text.
// Recognizers drop and reorder words from echoed audio, so word order is
// not compared.
func isEcho(transcript, spoken string) bool {
	words := strings.Fields(speech.NormalizeText(stripPunct(transcript)))
	if len(words) < echoMinWords {
		return false
	}
	said := make(map[string]struct{})
	for _, w := range strings.Fields(speech.NormalizeText(stripPunct(spoken))) {
		said[w] = struct{}{}
	}
	for _, w := range words {
		if _, ok := said[w]; !ok {
			return false
		}
	}
	return true
}
