package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
	"github.com/codebuildervaibhav/voice-recap/internal/summary"
	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

var tracer = otel.Tracer("voice-recap/session")

const summaryHeader = "📋 **Conversation Summary:**\n\n"

type speakerResult struct {
	outcome string
	text    string
	took    time.Duration
}

// finalize runs once per session, on its own goroutine, after Close wins the
// latch. Every step after the flush wait tolerates failure of the previous one.
func (s *Session) finalize(trigger string) {
	began := time.Now()
	ctx, span := tracer.Start(context.Background(), "session.finalize",
		trace.WithAttributes(
			attribute.String("session.key", s.key),
			attribute.String("session.id", s.id),
			attribute.String("session.trigger", trigger),
		))

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("finalize panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
		s.release()
		s.state.Store(int32(StateClosed))
		span.End()
		s.deps.Metrics.SessionFinalized(trigger, time.Since(began))
		close(s.done)
		s.logger.Info("session closed",
			zap.String("trigger", trigger),
			zap.Duration("took", time.Since(began)),
		)
	}()

	<-s.loopDone
	s.registry.DrainAll()
	recs := s.registry.Finished()
	s.awaitFlush(ctx, recs)
	if s.opts.SettleDelay > 0 {
		time.Sleep(s.opts.SettleDelay)
	}

	results := s.transcribeAll(ctx, recs)
	transcript := assemble(recs, results)
	endedAt := s.opts.Now()
	span.SetAttributes(
		attribute.Int("session.artifacts", len(recs)),
		attribute.Int("session.sections", len(transcript.Sections)),
	)

	var summaryText string
	if !transcript.Empty() {
		summaryText = s.summarize(ctx, transcript)
	}

	var document string
	if !transcript.Empty() {
		document = transcript.DocumentWithBody(endedAt, s.formatDialog(ctx, transcript))
	}
	s.deliver(ctx, transcript, document, summaryText, endedAt)

	if s.opts.RetainArtifacts {
		s.logger.Info("retaining artifacts", zap.Int("count", len(recs)))
	} else {
		s.cleanup(recs)
	}

	s.report = types.Report{
		ID:           s.id,
		SessionKey:   s.key,
		Trigger:      trigger,
		StartedAt:    s.startedAt,
		EndedAt:      endedAt,
		Participants: transcript.Participants,
		Sections:     len(transcript.Sections),
		Artifacts:    len(recs),
		Summary:      summaryText,
		Transcript:   document,
		WordCount:    transcript.WordCount(),
	}
	if s.deps.Reports != nil {
		if err := s.deps.Reports.SaveReport(ctx, s.report); err != nil {
			s.logger.Warn("saving session report", zap.Error(err))
		}
	}
}

// awaitFlush blocks until every recorder's artifact is closed.
func (s *Session) awaitFlush(ctx context.Context, recs []*recorder.Recorder) {
	_, span := tracer.Start(ctx, "session.await_flush")
	defer span.End()

	for _, rec := range recs {
		<-rec.Done()
	}
}

func (s *Session) transcribeAll(ctx context.Context, recs []*recorder.Recorder) []speakerResult {
	ctx, span := tracer.Start(ctx, "session.transcribe")
	defer span.End()

	results := make([]speakerResult, len(recs))
	var g errgroup.Group
	g.SetLimit(s.opts.TranscribeConcurrency)
	for i, rec := range recs {
		g.Go(func() error {
			results[i] = s.transcribeOne(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// transcribeOne never returns an error; a failed speaker is recorded in the
// outcome and dropped from the transcript.
func (s *Session) transcribeOne(ctx context.Context, rec *recorder.Recorder) (res speakerResult) {
	log := s.logger.With(
		zap.String("speaker_id", rec.Meta().SpeakerID),
		zap.String("artifact", rec.Path()),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("transcription panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = speakerResult{outcome: types.OutcomeFailed}
		}
		s.deps.Metrics.TranscriptionObserved(res.outcome, res.took)
	}()

	if err := rec.Err(); err != nil {
		log.Warn("artifact storage failed, skipping speaker", zap.Error(err))
		return speakerResult{outcome: types.OutcomeStorage}
	}
	info, err := os.Stat(rec.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("artifact missing, skipping speaker")
			return speakerResult{outcome: types.OutcomeMissing}
		}
		log.Warn("artifact unreadable, skipping speaker", zap.Error(err))
		return speakerResult{outcome: types.OutcomeStorage}
	}
	if info.Size() <= s.opts.MinArtifactBytes {
		log.Debug("artifact below minimum size, skipping speaker", zap.Int64("size", info.Size()))
		return speakerResult{outcome: types.OutcomeTooSmall}
	}
	if s.deps.Transcriber == nil {
		log.Warn("no transcriber configured")
		return speakerResult{outcome: types.OutcomeFailed}
	}

	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, rec.Path(), s.opts.Language)
	took := time.Since(start)
	if err != nil {
		log.Warn("transcription failed", zap.Error(err), zap.Duration("took", took))
		return speakerResult{outcome: types.OutcomeFailed, took: took}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Info("transcription returned no text", zap.Duration("took", took))
		return speakerResult{outcome: types.OutcomeEmpty, took: took}
	}
	log.Info("speaker transcribed",
		zap.Int("chars", len(text)),
		zap.Duration("audio", rec.Format().Duration(info.Size()-recorder.HeaderSize)),
		zap.Duration("took", took),
	)
	return speakerResult{outcome: types.OutcomeTranscribed, text: text, took: took}
}

// assemble keeps finished order. Participants are listed once each, in the
// order their first section appears.
func assemble(recs []*recorder.Recorder, results []speakerResult) *Transcript {
	t := &Transcript{}
	seen := make(map[string]bool)
	for i, rec := range recs {
		if results[i].outcome != types.OutcomeTranscribed {
			continue
		}
		meta := rec.Meta()
		label := meta.Label()
		t.Sections = append(t.Sections, Section{
			SpeakerID: meta.SpeakerID,
			Speaker:   label,
			Text:      results[i].text,
		})
		if !seen[meta.SpeakerID] {
			seen[meta.SpeakerID] = true
			t.Participants = append(t.Participants, label)
		}
	}
	return t
}

func (s *Session) summarize(ctx context.Context, t *Transcript) string {
	ctx, span := tracer.Start(ctx, "session.summarize")
	defer span.End()

	if s.deps.Summarizer == nil {
		s.deps.Metrics.SummaryObserved("placeholder")
		return s.opts.PlaceholderSummary
	}

	input := Truncate(t.Body(), s.opts.SummaryMaxInput)
	out, err := s.deps.Summarizer.Summarize(ctx, s.opts.SummaryPrompt, input)
	switch {
	case errors.Is(err, summary.ErrMissingCredential):
		s.logger.Info("summarizer has no credential, using placeholder")
		s.deps.Metrics.SummaryObserved("placeholder")
		return s.opts.PlaceholderSummary
	case err != nil:
		span.RecordError(err)
		s.logger.Warn("summary failed, delivering transcript only", zap.Error(err))
		s.deps.Metrics.SummaryObserved("error")
		return ""
	}

	out = strings.TrimSpace(out)
	if out == "" {
		s.deps.Metrics.SummaryObserved("empty")
		return ""
	}
	s.deps.Metrics.SummaryObserved("ok")
	return out
}

// formatDialog runs the optional dialog pass over the transcript body. Any
// failure keeps the body as assembled.
func (s *Session) formatDialog(ctx context.Context, t *Transcript) string {
	body := t.Body()
	if s.opts.DialogPrompt == "" {
		return body
	}
	formatter, ok := s.deps.Summarizer.(summary.DialogFormatter)
	if !ok {
		return body
	}
	if s.opts.SummaryMaxInput > 0 && utf8.RuneCountInString(body) > s.opts.SummaryMaxInput {
		s.logger.Info("transcript too long for dialog formatting, keeping raw transcript")
		return body
	}
	ctx, span := tracer.Start(ctx, "session.format_dialog")
	defer span.End()

	out, err := formatter.FormatDialog(ctx, s.opts.DialogPrompt, body)
	switch {
	case errors.Is(err, summary.ErrMissingCredential):
		s.logger.Debug("dialog formatter has no credential, keeping raw transcript")
		return body
	case err != nil:
		span.RecordError(err)
		s.logger.Warn("dialog formatting failed, keeping raw transcript", zap.Error(err))
		return body
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return body
	}
	return out
}

func (s *Session) deliver(ctx context.Context, t *Transcript, document, summaryText string, endedAt time.Time) {
	ctx, span := tracer.Start(ctx, "session.deliver")
	defer span.End()

	if s.sink == nil {
		s.logger.Warn("no delivery sink, dropping session output")
		return
	}
	if t.Empty() {
		s.send(types.DeliveryNotice, func() error { return s.sink.SendText(ctx, emptyNotice) })
		return
	}
	if summaryText != "" {
		s.send(types.DeliverySummary, func() error { return s.sink.SendText(ctx, summaryHeader+summaryText) })
	} else {
		s.send(types.DeliveryNotice, func() error { return s.sink.SendText(ctx, summaryFailedNotice) })
	}
	filename := fmt.Sprintf("transcript_%s.txt", endedAt.Format("20060102_150405"))
	caption := "📝 **Transcript for:** " + strings.Join(t.Participants, ", ")
	s.send(types.DeliveryTranscript, func() error { return s.sink.SendFile(ctx, []byte(document), filename, caption) })
}

// send runs one independent delivery attempt.
func (s *Session) send(kind string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("delivery panic: %v", r)
			}
		}()
		err = fn()
	}()
	s.deps.Metrics.DeliveryObserved(kind, err)
	if err != nil {
		s.logger.Warn("delivery failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	s.logger.Info("delivered", zap.String("kind", kind))
}

func (s *Session) cleanup(recs []*recorder.Recorder) {
	for _, rec := range recs {
		err := os.Remove(rec.Path())
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("artifact already gone", zap.String("artifact", rec.Path()))
			continue
		}
		s.deps.Metrics.ArtifactCleaned(err)
		if err != nil {
			s.logger.Warn("deleting artifact", zap.String("artifact", rec.Path()), zap.Error(err))
		}
	}
}
