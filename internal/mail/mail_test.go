package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "apikey",
		Password: "secret",
		From:     "noreply@example.com",
		FromName: "Task Manager",
		TLS:      true,
	}
}

func TestNewSMTPSender(t *testing.T) {
	sender, err := NewSMTPSender(validConfig())

	require.NoError(t, err)
	assert.NotNil(t, sender)
}

func TestNewSMTPSenderMissingHost(t *testing.T) {
	cfg := validConfig()
	cfg.Host = ""

	_, err := NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp host is required")
}

func TestNewSMTPSenderMissingFrom(t *testing.T) {
	cfg := validConfig()
	cfg.From = ""

	_, err := NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp from address is required")
}

func TestNewSMTPSenderDefaultsPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0

	sender, err := NewSMTPSender(cfg)

	require.NoError(t, err)
	assert.Equal(t, 587, sender.cfg.Port)
}
