package session

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
	"github.com/codebuildervaibhav/voice-recap/internal/summary"
)

func TestSession_SmallArtifactSkipsTranscriber(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{answers: map[string]string{"x": "hello from x"}}
	sum := &fakeSummarizer{out: "short recap"}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "guild-1", sink)
	route(t, m, "guild-1",
		join("x", "X"),
		join("y", "Y"),
		audio("x", 50*1024),
		leave("y"),
		leave("x"),
	)
	waitDone(t, s)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "x", speakerOf(calls[0]))

	report := s.Report()
	assert.Equal(t, TriggerEmpty, report.Trigger)
	assert.Equal(t, 1, report.Sections)
	assert.Equal(t, 2, report.Artifacts)
	assert.Equal(t, []string{"X"}, report.Participants)

	_, files, closures := sink.snapshot()
	require.Len(t, files, 1)
	assert.Contains(t, string(files[0].data), "**X:** hello from x")
	assert.NotContains(t, string(files[0].data), "**Y:**")
	assert.Equal(t, 1, closures)

	assert.Empty(t, listArtifacts(t, opts.ArtifactsDir))
}

func TestSession_TranscriberFailureIsIsolated(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{
		answers: map[string]string{"b": "b speaks"},
		fail:    map[string]error{"a": errTranscribe},
	}
	sum := &fakeSummarizer{out: "recap"}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", sink)
	route(t, m, "room",
		join("a", "Alice"),
		join("b", "Bob"),
		audio("a", 4096),
		audio("b", 4096),
	)
	_, err := m.Stop("room")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Len(t, tr.Calls(), 2)
	texts, files, _ := sink.snapshot()
	require.Len(t, texts, 1)
	assert.Equal(t, summaryHeader+"recap", texts[0])
	require.Len(t, files, 1)
	doc := string(files[0].data)
	assert.Contains(t, doc, "**Bob:** b speaks")
	assert.NotContains(t, doc, "Alice")
	assert.Equal(t, "📝 **Transcript for:** Bob", files[0].caption)
	assert.Equal(t, TriggerStop, s.Trigger())
}

func TestSession_MissingCredentialUsesPlaceholder(t *testing.T) {
	opts := testOptions(t)
	opts.PlaceholderSummary = "no key"
	tr := &fakeTranscriber{answers: map[string]string{"a": "text"}}
	sum := &fakeSummarizer{err: summary.ErrMissingCredential}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "A"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	texts, files, _ := sink.snapshot()
	assert.Equal(t, []string{summaryHeader + "no key"}, texts)
	assert.Len(t, files, 1)
	assert.Equal(t, "no key", s.Report().Summary)
}

func TestSession_SummaryFailureStillDeliversTranscript(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{answers: map[string]string{"a": "text"}}
	sum := &fakeSummarizer{err: errTranscribe}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "A"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	texts, files, _ := sink.snapshot()
	assert.Equal(t, []string{summaryFailedNotice}, texts)
	assert.Len(t, files, 1)
}

func TestSession_DialogFormattingReplacesBody(t *testing.T) {
	opts := testOptions(t)
	opts.DialogPrompt = "format as dialog"
	tr := &fakeTranscriber{answers: map[string]string{"a": "hello", "b": "hi"}}
	sum := &dialogSummarizer{fakeSummarizer: fakeSummarizer{out: "recap"}, dialog: "- Ann: hello\n- Ben: hi"}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "Ann"), join("b", "Ben"), audio("a", 4096), audio("b", 4096), leave("a"), leave("b"))
	waitDone(t, s)

	assert.Equal(t, int32(1), sum.dialogCalls.Load())
	input, _ := sum.dialogInput.Load().(string)
	assert.Contains(t, input, "**Ann:** hello")

	_, files, _ := sink.snapshot()
	require.Len(t, files, 1)
	doc := string(files[0].data)
	assert.Contains(t, doc, "Participants: Ann, Ben")
	assert.Contains(t, doc, "- Ann: hello\n- Ben: hi")
	assert.NotContains(t, doc, "**Ann:**")

	summaryInput, _ := sum.input.Load().(string)
	assert.Contains(t, summaryInput, "**Ann:** hello")
}

func TestSession_DialogFormattingFallsBackToBody(t *testing.T) {
	for name, dialogErr := range map[string]error{
		"error":              errTranscribe,
		"missing credential": summary.ErrMissingCredential,
	} {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t)
			opts.DialogPrompt = "format as dialog"
			tr := &fakeTranscriber{answers: map[string]string{"a": "hello"}}
			sum := &dialogSummarizer{fakeSummarizer: fakeSummarizer{out: "recap"}, dialogErr: dialogErr}
			sink := &fakeSink{}
			m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

			s := startSession(t, m, "room", sink)
			route(t, m, "room", join("a", "Ann"), audio("a", 4096), leave("a"))
			waitDone(t, s)

			assert.Equal(t, int32(1), sum.dialogCalls.Load())
			_, files, _ := sink.snapshot()
			require.Len(t, files, 1)
			assert.Contains(t, string(files[0].data), "**Ann:** hello")
		})
	}
}

func TestSession_DialogFormattingSkipsOversizedTranscript(t *testing.T) {
	opts := testOptions(t)
	opts.DialogPrompt = "format as dialog"
	opts.SummaryMaxInput = 60
	tr := &fakeTranscriber{answers: map[string]string{"a": strings.Repeat("word ", 100)}}
	sum := &dialogSummarizer{fakeSummarizer: fakeSummarizer{out: "recap"}, dialog: "cut"}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", join("a", "Ann"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	assert.Zero(t, sum.dialogCalls.Load())
	assert.Contains(t, s.Report().Transcript, strings.Repeat("word ", 99))
}

func TestSession_DialogFormattingDisabledWithoutPrompt(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{answers: map[string]string{"a": "hello"}}
	sum := &dialogSummarizer{fakeSummarizer: fakeSummarizer{out: "recap"}, dialog: "unused"}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", join("a", "Ann"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	assert.Zero(t, sum.dialogCalls.Load())
	assert.Contains(t, s.Report().Transcript, "**Ann:** hello")
}

func TestSession_SummaryInputIsTruncated(t *testing.T) {
	opts := testOptions(t)
	opts.SummaryMaxInput = 60
	tr := &fakeTranscriber{answers: map[string]string{"a": strings.Repeat("word ", 100)}}
	sum := &fakeSummarizer{out: "ok"}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", join("a", "A"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	input, _ := sum.input.Load().(string)
	assert.True(t, strings.HasSuffix(input, truncatedMarker))
	assert.LessOrEqual(t, utf8.RuneCountInString(input), 60)
	assert.Equal(t, int32(1), sum.calls.Load())
}

func TestSession_DeliveryFailuresAreIndependent(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{answers: map[string]string{"a": "text"}}
	sink := &fakeSink{textErr: errTranscribe}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: &fakeSummarizer{out: "s"}})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "A"), audio("a", 4096), leave("a"))
	waitDone(t, s)

	_, files, closures := sink.snapshot()
	assert.Len(t, files, 1)
	assert.Equal(t, 1, closures)
	assert.Empty(t, listArtifacts(t, opts.ArtifactsDir))
}

func TestSession_EmptyTranscriptSendsNotice(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{}
	sum := &fakeSummarizer{out: "unused"}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: sum})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "A"), leave("a"))
	waitDone(t, s)

	texts, files, _ := sink.snapshot()
	assert.Equal(t, []string{emptyNotice}, texts)
	assert.Empty(t, files)
	assert.Empty(t, tr.Calls())
	assert.Zero(t, sum.calls.Load())
}

func TestSession_FinishedOrderNotJoinOrder(t *testing.T) {
	opts := testOptions(t)
	tr := &fakeTranscriber{answers: map[string]string{"a": "from a", "b": "from b"}}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: &fakeSummarizer{out: "s"}})

	s := startSession(t, m, "room", sink)
	route(t, m, "room",
		join("a", "A"),
		join("b", "B"),
		audio("a", 4096),
		audio("b", 4096),
		leave("b"),
		leave("a"),
	)
	waitDone(t, s)

	_, files, _ := sink.snapshot()
	require.Len(t, files, 1)
	doc := string(files[0].data)
	ib := strings.Index(doc, "**B:** from b")
	ia := strings.Index(doc, "**A:** from a")
	require.True(t, ib >= 0 && ia >= 0)
	assert.Less(t, ib, ia)
	assert.Equal(t, []string{"B", "A"}, s.Report().Participants)
}

func TestSession_Retention(t *testing.T) {
	for _, retain := range []bool{false, true} {
		t.Run(map[bool]string{false: "delete", true: "retain"}[retain], func(t *testing.T) {
			opts := testOptions(t)
			opts.RetainArtifacts = retain
			tr := &fakeTranscriber{
				answers: map[string]string{"a": "ok"},
				fail:    map[string]error{"b": errTranscribe},
			}
			m := NewManager(nil, opts, Deps{Transcriber: tr, Summarizer: &fakeSummarizer{out: "s"}})

			s := startSession(t, m, "room", &fakeSink{})
			route(t, m, "room",
				join("a", "A"), join("b", "B"), join("c", "C"),
				audio("a", 4096), audio("b", 4096),
			)
			_, err := m.Stop("room")
			require.NoError(t, err)
			waitDone(t, s)

			left := listArtifacts(t, opts.ArtifactsDir)
			if retain {
				assert.Len(t, left, 3)
			} else {
				assert.Empty(t, left)
			}
		})
	}
}

func TestSession_NeverTranscribesBeforeFlush(t *testing.T) {
	opts := testOptions(t)
	var closed sync.Map
	opts.OpenArtifact = func(path string) (recorder.Artifact, error) {
		f, err := recorder.CreateFile(path)
		if err != nil {
			return nil, err
		}
		return &slowArtifact{File: f.(*os.File), delay: 50 * time.Millisecond, closed: &closed}, nil
	}
	var violations atomic.Int32
	tr := &fakeTranscriber{
		answers: map[string]string{"a": "a", "b": "b"},
		check: func(path string) error {
			if _, ok := closed.Load(path); !ok {
				violations.Add(1)
			}
			return nil
		},
	}
	m := NewManager(nil, opts, Deps{Transcriber: tr})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room",
		join("a", "A"), join("b", "B"),
		audio("a", 4096), audio("b", 4096),
		leave("a"),
	)
	_, err := m.Stop("room")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Len(t, tr.Calls(), 2)
	assert.Zero(t, violations.Load())
}

func TestSession_AppendFailureDropsSpeaker(t *testing.T) {
	opts := testOptions(t)
	opts.OpenArtifact = func(path string) (recorder.Artifact, error) {
		f, err := recorder.CreateFile(path)
		if err != nil {
			return nil, err
		}
		if speakerOf(path) == "x" {
			return &cappedArtifact{File: f.(*os.File), limit: recorder.HeaderSize + 4096}, nil
		}
		return f, nil
	}
	tr := &fakeTranscriber{answers: map[string]string{"x": "lost", "y": "kept"}}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr})

	s := startSession(t, m, "room", sink)
	route(t, m, "room",
		join("x", "X"), join("y", "Y"),
		audio("x", 4096), audio("x", 4096), audio("x", 4096),
		audio("y", 4096),
		leave("x"),
	)
	_, err := m.Stop("room")
	require.NoError(t, err)
	waitDone(t, s)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "y", speakerOf(calls[0]))

	_, files, _ := sink.snapshot()
	require.Len(t, files, 1)
	assert.Contains(t, string(files[0].data), "kept")
	assert.NotContains(t, string(files[0].data), "lost")
	assert.Equal(t, []string{"Y"}, s.Report().Participants)
}

func TestSession_AcceptedAudioSurvivesRacingStop(t *testing.T) {
	for round := 0; round < 20; round++ {
		opts := testOptions(t)
		opts.MinArtifactBytes = 0
		var written atomic.Int64
		tr := &fakeTranscriber{
			answers: map[string]string{"a": "a"},
			check: func(path string) error {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				written.Add(info.Size() - recorder.HeaderSize)
				return nil
			},
		}
		m := NewManager(nil, opts, Deps{Transcriber: tr})
		s := startSession(t, m, "room", &fakeSink{})
		route(t, m, "room", join("a", "A"))

		const chunk = 2
		var accepted atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for s.Submit(audio("a", chunk)) {
					accepted.Add(chunk)
				}
			}()
		}
		time.Sleep(time.Millisecond)
		s.Close(TriggerStop)
		wg.Wait()
		waitDone(t, s)

		assert.GreaterOrEqual(t, written.Load(), accepted.Load(), "round %d", round)
	}
}

func TestSession_CloseIsIdempotentUnderContention(t *testing.T) {
	opts := testOptions(t)
	store := &countingStore{}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: &fakeTranscriber{}, Reports: store})

	s := startSession(t, m, "room", sink)
	route(t, m, "room", join("a", "A"))

	triggers := []string{TriggerStop, TriggerEmpty, TriggerDisconnect, TriggerMaxDuration}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(trigger string) {
			defer wg.Done()
			if s.Close(trigger) {
				wins.Add(1)
			}
		}(triggers[i%len(triggers)])
	}
	wg.Wait()
	waitDone(t, s)

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, store.Len())
	texts, _, closures := sink.snapshot()
	assert.Len(t, texts, 1)
	assert.Equal(t, 1, closures)
	assert.False(t, s.Close(TriggerStop))
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_LeaveOfUnknownSpeakerDoesNotFinalize(t *testing.T) {
	opts := testOptions(t)
	m := NewManager(nil, opts, Deps{})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", leave("ghost"))

	require.Eventually(t, func() bool { return len(s.events) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())

	_, err := m.Stop("room")
	require.NoError(t, err)
	waitDone(t, s)
}

func TestSession_DisconnectEvent(t *testing.T) {
	opts := testOptions(t)
	m := NewManager(nil, opts, Deps{})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", join("a", "A"), Event{Kind: EventDisconnect})
	waitDone(t, s)

	assert.Equal(t, TriggerDisconnect, s.Trigger())
	assert.ErrorIs(t, m.Route("room", join("b", "B")), ErrNoSession)
}

func TestSession_SpeakingPolicy(t *testing.T) {
	opts := testOptions(t)
	opts.Policy = PolicySpeaking
	tr := &fakeTranscriber{answers: map[string]string{"a": "said"}}
	sink := &fakeSink{}
	m := NewManager(nil, opts, Deps{Transcriber: tr})

	s := startSession(t, m, "room", sink)
	route(t, m, "room",
		join("a", "A"),
		audio("a", 4096),
		Event{Kind: EventSpeakingStart, SpeakerID: "a"},
		audio("a", 4096),
		Event{Kind: EventSpeakingEnd, SpeakerID: "a"},
		Event{Kind: EventSpeakingStart, SpeakerID: "a"},
		audio("a", 4096),
		Event{Kind: EventSpeakingEnd, SpeakerID: "a"},
		leave("a"),
	)
	waitDone(t, s)

	assert.Equal(t, TriggerEmpty, s.Trigger())
	assert.Equal(t, 2, s.Report().Artifacts)
	_, files, _ := sink.snapshot()
	require.Len(t, files, 1)
	assert.Contains(t, string(files[0].data), "**A (part 1):** said")
	assert.Contains(t, string(files[0].data), "**A (part 2):** said")
}

func TestSession_SpanRotation(t *testing.T) {
	opts := testOptions(t)
	opts.MaxSpan = 20 * time.Minute
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	opts.Now = func() time.Time { return base.Add(time.Duration(tick.Load())) }

	tr := &fakeTranscriber{answers: map[string]string{"a": "chunk"}}
	m := NewManager(nil, opts, Deps{Transcriber: tr})

	s := startSession(t, m, "room", &fakeSink{})
	route(t, m, "room", join("a", "A"), audio("a", 4096))
	require.Eventually(t, func() bool {
		_, ok := s.registry.Active("a")
		return ok
	}, time.Second, 5*time.Millisecond)

	tick.Store(int64(21 * time.Minute))
	route(t, m, "room", audio("a", 4096), leave("a"))
	waitDone(t, s)

	assert.Equal(t, 2, s.Report().Artifacts)
	assert.Equal(t, 2, s.Report().Sections)
}

func TestSession_MaxDuration(t *testing.T) {
	opts := testOptions(t)
	opts.MaxSession = 30 * time.Millisecond
	m := NewManager(nil, opts, Deps{})

	s := startSession(t, m, "room", &fakeSink{})
	waitDone(t, s)
	assert.Equal(t, TriggerMaxDuration, s.Trigger())
}

func TestSession_AttachReleasesConnection(t *testing.T) {
	opts := testOptions(t)
	m := NewManager(nil, opts, Deps{})
	s := startSession(t, m, "room", &fakeSink{})

	conn := &fakeConn{}
	_, err := m.Attach("room", conn)
	require.NoError(t, err)
	_, err = m.Attach("room", &fakeConn{})
	assert.ErrorIs(t, err, ErrConnectionAttached)

	_, err = m.Stop("room")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, int32(1), conn.closed.Load())
	assert.ErrorIs(t, s.Attach(&fakeConn{}), ErrClosed)
}

func TestManager_StartStop(t *testing.T) {
	opts := testOptions(t)
	m := NewManager(nil, opts, Deps{})

	s := startSession(t, m, "room", &fakeSink{})
	_, err := m.Start(StartRequest{Key: "room", Sink: &fakeSink{}})
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = m.Stop("other")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.Stop("room")
	require.NoError(t, err)
	_, err = m.Stop("room")
	assert.ErrorIs(t, err, ErrNoSession)

	next := startSession(t, m, "room", &fakeSink{})
	assert.NotEqual(t, s.ID(), next.ID())

	waitDone(t, s)
	got, ok := m.Directory().Get("room")
	require.True(t, ok)
	assert.Same(t, next, got)

	_, err = m.Start(StartRequest{})
	assert.Error(t, err)
}

func TestManager_StatusAndShutdown(t *testing.T) {
	opts := testOptions(t)
	m := NewManager(nil, opts, Deps{})

	a := startSession(t, m, "b-room", &fakeSink{})
	b := startSession(t, m, "a-room", &fakeSink{})
	route(t, m, "a-room", join("x", "X"))

	require.Eventually(t, func() bool {
		st := m.Status()
		return len(st) == 2 && st[0].Present == 1
	}, time.Second, 5*time.Millisecond)
	st := m.Status()
	assert.Equal(t, "a-room", st[0].Key)
	assert.Equal(t, "active", st[0].State)

	require.NoError(t, m.Shutdown(t.Context()))
	assert.Equal(t, TriggerShutdown, a.Trigger())
	assert.Equal(t, TriggerShutdown, b.Trigger())
	assert.Empty(t, m.Status())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyContinuous, p)

	p, err = ParsePolicy(" Speaking ")
	require.NoError(t, err)
	assert.Equal(t, PolicySpeaking, p)

	_, err = ParsePolicy("always")
	assert.Error(t, err)
}
