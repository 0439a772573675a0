package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/voice-recap/internal/storage"
)

// LocalSink writes messages and files through LocalStorage.
type LocalSink struct {
	closeFlag
	store    *storage.LocalStorage
	session  string
	now      func() time.Time
	messages atomic.Int32
}

func NewLocalSink(store *storage.LocalStorage, session string, now func() time.Time) *LocalSink {
	if now == nil {
		now = time.Now
	}
	return &LocalSink{store: store, session: session, now: now}
}

func (l *LocalSink) SendText(_ context.Context, text string) error {
	if err := l.check("send text"); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_message_%d.md", l.session, l.messages.Add(1))
	_, err := l.store.Save(name, []byte(text), l.now())
	return err
}

func (l *LocalSink) SendFile(_ context.Context, data []byte, filename, _ string) error {
	if err := l.check("send file"); err != nil {
		return err
	}
	_, err := l.store.Save(l.session+"_"+filename, data, l.now())
	return err
}

// DriveSink uploads messages and files into the session's Drive folder.
type DriveSink struct {
	closeFlag
	client  *storage.DriveClient
	session string
	now     func() time.Time
}

func NewDriveSink(client *storage.DriveClient, session string, now func() time.Time) *DriveSink {
	if now == nil {
		now = time.Now
	}
	return &DriveSink{client: client, session: session, now: now}
}

func (d *DriveSink) SendText(ctx context.Context, text string) error {
	if err := d.check("send text"); err != nil {
		return err
	}
	at := d.now()
	_, err := d.client.Upload(ctx, d.session, fmt.Sprintf("message_%s.md", at.Format("20060102_150405")), []byte(text), at)
	return err
}

func (d *DriveSink) SendFile(ctx context.Context, data []byte, filename, _ string) error {
	if err := d.check("send file"); err != nil {
		return err
	}
	_, err := d.client.Upload(ctx, d.session, filename, data, d.now())
	return err
}

// MultiSink fans every send out to all sinks. One failing sink does not stop
// the others; their errors are joined.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) SendText(ctx context.Context, text string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SendText(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) SendFile(ctx context.Context, data []byte, filename, caption string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SendFile(ctx, data, filename, caption); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
