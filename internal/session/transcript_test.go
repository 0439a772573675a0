package session

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTranscript_BodyLabelsParts(t *testing.T) {
	tr := &Transcript{Sections: []Section{
		{SpeakerID: "1", Speaker: "Ann", Text: "hi"},
		{SpeakerID: "2", Speaker: "Bo", Text: "hey"},
		{SpeakerID: "1", Speaker: "Ann", Text: "again"},
	}}

	assert.Equal(t, "**Ann (part 1):** hi\n\n**Bo:** hey\n\n**Ann (part 2):** again", tr.Body())
	assert.Equal(t, 3, tr.WordCount())
}

func TestTranscript_Document(t *testing.T) {
	tr := &Transcript{
		Sections:     []Section{{SpeakerID: "1", Speaker: "Ann", Text: "hello there"}},
		Participants: []string{"Ann"},
	}
	doc := tr.Document(time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC))

	lines := strings.Split(doc, "\n")
	assert.Equal(t, "Conversation transcript from 09.03.2024 14:05", lines[0])
	assert.Equal(t, "Participants: Ann", lines[1])
	assert.Equal(t, strings.Repeat("=", 50), lines[2])
	assert.Contains(t, doc, "**Ann:** hello there")
}

func TestTranscript_Empty(t *testing.T) {
	var nilT *Transcript
	assert.True(t, nilT.Empty())
	assert.Equal(t, "", (&Transcript{}).Body())
	assert.Zero(t, nilT.WordCount())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "anything", Truncate("anything", 0))
	assert.Equal(t, "при", Truncate("привет", 3))

	long := strings.Repeat("абвгд", 20)
	out := Truncate(long, 40)
	assert.Equal(t, 40, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, truncatedMarker))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(out, truncatedMarker)))

	for limit := 1; limit <= 60; limit++ {
		assert.LessOrEqual(t, utf8.RuneCountInString(Truncate(long, limit)), limit)
	}
}
