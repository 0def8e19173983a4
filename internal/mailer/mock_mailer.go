package mailer

import (
	"sync"
)

// Email is one message a MockMailer was asked to send.
type Email struct {
	Recipient    string
	TemplateFile string
	Data         any
}

// MockMailer records messages instead of sending them. Sends fail with Err when it is set.
type MockMailer struct {
	mu     sync.RWMutex
	emails []Email
	err    error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{
		emails: make([]Email, 0),
	}
}

func (m *MockMailer) Send(recipient, templateFile string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.emails = append(m.emails, Email{
		Recipient:    recipient,
		TemplateFile: templateFile,
		Data:         data,
	})

	return nil
}

// FailWith makes every later Send return err. A nil err restores normal behaviour.
func (m *MockMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SentEmails returns a copy of the recorded messages.
func (m *MockMailer) SentEmails() []Email {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emails := make([]Email, len(m.emails))
	copy(emails, m.emails)
	return emails
}

// SentTo returns the recorded messages for recipient built from templateFile.
func (m *MockMailer) SentTo(recipient, templateFile string) []Email {
	var out []Email
	for _, e := range m.SentEmails() {
		if e.Recipient == recipient && e.TemplateFile == templateFile {
			out = append(out, e)
		}
	}
	return out
}
