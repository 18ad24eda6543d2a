package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/guestauth/internal/config"
	"github.com/MrEthical07/guestauth/internal/logging"
	"github.com/MrEthical07/guestauth/twofactor"
)

func TestFillDevSecretsKeepsConfiguredValues(t *testing.T) {
	cfg := &config.Config{CSRFSecret: "configured"}
	require.NoError(t, fillDevSecrets(cfg))

	assert.Len(t, cfg.JWTSecret, 64)
	assert.Len(t, cfg.CodePepper, 64)
	assert.NotEqual(t, cfg.JWTSecret, cfg.CodePepper)
	assert.Equal(t, "configured", cfg.CSRFSecret)
}

func TestCodeSender(t *testing.T) {
	ctx := context.Background()

	dev := codeSender(true, logging.Nop{})
	assert.NoError(t, dev.SendCode(ctx, "a@example.com", twofactor.PurposeLogin, "123456"))

	prod := codeSender(false, logging.Nop{})
	assert.Error(t, prod.SendCode(ctx, "a@example.com", twofactor.PurposeLogin, "123456"))
}
