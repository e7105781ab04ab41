package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

type sentMessage struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

// MockSMTP records delivered messages and returns Err.
type MockSMTP struct {
	Sent []sentMessage
	Err  error
}

func (m *MockSMTP) Send(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentMessage{addr: addr, auth: a, from: from, to: to, msg: msg})
	return nil
}

var testNow = time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC)

func newTestMailer(t *testing.T, smtpMock *MockSMTP) *Mailer {
	t.Helper()
	m, err := New(Config{
		Host:     "smtp.test",
		Port:     2525,
		Username: "bot",
		Password: "pw",
		From:     "Budget Bot <bot@example.com>",
	}, WithSendFunc(smtpMock.Send), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	m.newID = func() string { return "fixed-id" }
	return m
}

func TestNew(t *testing.T) {
	_, err := New(Config{From: "a@b.c"})
	assert.Error(t, err)

	_, err = New(Config{Host: "smtp.test"})
	assert.Error(t, err)

	m, err := New(Config{Host: "smtp.test", From: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, 587, m.cfg.Port)
	assert.Nil(t, m.auth, "no auth without a username")
}

func TestSend_WithAttachments(t *testing.T) {
	smtpMock := &MockSMTP{}
	m := newTestMailer(t, smtpMock)

	csv := []byte("category,budget,actual,variance\nGroceries,100.00,80.00,20.00\n")
	id, err := m.Send(context.Background(), "Weekly budget report: 2024-03-04", "Spent 80.00 of 100.00.",
		[]domain.Attachment{
			{Filename: "variance.csv", ContentType: "text/csv", Data: csv},
			{Filename: "report.txt", Data: []byte("report")},
		},
		[]string{"me@example.com", " ME@example.com ", "", "partner@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "<fixed-id@example.com>", id)

	require.Len(t, smtpMock.Sent, 1)
	sent := smtpMock.Sent[0]
	assert.Equal(t, "smtp.test:2525", sent.addr)
	assert.NotNil(t, sent.auth)
	assert.Equal(t, []string{"me@example.com", "partner@example.com"}, sent.to)

	msg, err := mail.ReadMessage(bytes.NewReader(sent.msg))
	require.NoError(t, err)
	assert.Equal(t, "Weekly budget report: 2024-03-04", msg.Header.Get("Subject"))
	assert.Equal(t, "<fixed-id@example.com>", msg.Header.Get("Message-ID"))
	assert.Equal(t, "me@example.com, partner@example.com", msg.Header.Get("To"))
	date, err := msg.Header.Date()
	require.NoError(t, err)
	assert.True(t, testNow.Equal(date))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(msg.Body, params["boundary"])

	text, err := reader.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "Spent 80.00 of 100.00.", string(body))

	first, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "variance.csv", first.FileName())
	assert.Equal(t, "base64", first.Header.Get("Content-Transfer-Encoding"))
	encoded, err := io.ReadAll(first)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, csv, decoded)

	second, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "report.txt", second.FileName())
	assert.Contains(t, second.Header.Get("Content-Type"), "application/octet-stream")

	_, err = reader.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestSend_PlainText(t *testing.T) {
	smtpMock := &MockSMTP{}
	m := newTestMailer(t, smtpMock)

	_, err := m.Send(context.Background(), "Résumé", "Héllo", nil, []string{"me@example.com"})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(smtpMock.Sent[0].msg))
	require.NoError(t, err)
	assert.Contains(t, msg.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, "quoted-printable", msg.Header.Get("Content-Transfer-Encoding"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Résumé", subject)
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		smtpErr    error
		recipients []string
		wantKind   apperror.Kind
	}{
		{name: "no recipients", recipients: []string{" ", ""}, wantKind: apperror.KindValidation},
		{name: "dial failure", smtpErr: errors.New("dial tcp: connection refused"), recipients: []string{"a@b.c"}, wantKind: apperror.KindTransient},
		{name: "mailbox busy", smtpErr: &textproto.Error{Code: 450, Msg: "try later"}, recipients: []string{"a@b.c"}, wantKind: apperror.KindTransient},
		{name: "bad credentials", smtpErr: &textproto.Error{Code: 535, Msg: "auth failed"}, recipients: []string{"a@b.c"}, wantKind: apperror.KindAuth},
		{name: "mailbox unknown", smtpErr: &textproto.Error{Code: 550, Msg: "no such user"}, recipients: []string{"a@b.c"}, wantKind: apperror.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMailer(t, &MockSMTP{Err: tt.smtpErr})
			_, err := m.Send(context.Background(), "s", "b", nil, tt.recipients)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}
}

func TestSend_CancelledContext(t *testing.T) {
	smtpMock := &MockSMTP{}
	m := newTestMailer(t, smtpMock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Send(ctx, "s", "b", nil, []string{"a@b.c"})
	assert.Error(t, err)
	assert.Empty(t, smtpMock.Sent)
}

func TestBuildMessage_AttachmentWithoutName(t *testing.T) {
	_, err := buildMessage(message{
		From:        "a@b.c",
		To:          []string{"d@e.f"},
		Attachments: []domain.Attachment{{Data: []byte("x")}},
	})
	assert.Error(t, err)
}

func TestWriteBase64_WrapsLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBase64(&buf, bytes.Repeat([]byte("a"), 120)))

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\r\n"), []byte("\r\n"))
	require.Len(t, lines, 3)
	assert.Len(t, lines[0], base64LineLength)
	assert.Len(t, lines[1], base64LineLength)
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bot@example.com", "example.com"},
		{"Budget Bot <bot@mail.example.com>", "mail.example.com"},
		{"nobody", "localhost"},
		{"trailing@", "localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, domainOf(tt.in))
		})
	}
}
