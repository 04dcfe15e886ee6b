package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverdesk/coverdesk/internal/crypto"
	"github.com/coverdesk/coverdesk/pkg/credential"
)

func testWebhook(t *testing.T) *Webhook {
	t.Helper()
	cipher, err := crypto.New(strings.Repeat("ab", 32))
	require.NoError(t, err)
	return &Webhook{
		resolver: credential.NewResolver(nil, cipher),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	wh := testWebhook(t)
	cred := credential.Credential{AppSecret: "app-secret"}
	body := []byte(`{"object":"whatsapp_business_account"}`)

	assert.True(t, wh.verifySignature(cred, sign("app-secret", body), body))
	assert.False(t, wh.verifySignature(cred, sign("wrong-secret", body), body), "wrong secret")
	assert.False(t, wh.verifySignature(cred, sign("app-secret", []byte(`tampered`)), body), "tampered body")
	assert.False(t, wh.verifySignature(cred, strings.TrimPrefix(sign("app-secret", body), "sha256="), body), "missing scheme prefix")
	assert.False(t, wh.verifySignature(credential.Credential{}, sign("app-secret", body), body), "credential without secret")
}

func TestVerifySignatureEncryptedSecret(t *testing.T) {
	wh := testWebhook(t)
	sealed, err := wh.resolver.Encrypt("app-secret")
	require.NoError(t, err)
	cred := credential.Credential{AppSecret: sealed}
	body := []byte(`{}`)

	assert.True(t, wh.verifySignature(cred, sign("app-secret", body), body))
}

func TestPayloadDecode(t *testing.T) {
	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "102290129340398",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "phone_number_id": "106540352242922"},
					"contacts": [{"wa_id": "2348012345678", "profile": {"name": "Ada"}}],
					"messages": [{"from": "2348012345678", "id": "wamid.HBgL", "timestamp": "1756712345", "type": "text", "text": {"body": "hello"}}],
					"statuses": [{"id": "wamid.out1", "status": "delivered", "timestamp": "1756712346", "recipient_id": "2348012345678"}]
				}
			}]
		}]
	}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.Len(t, p.Entry, 1)
	require.Len(t, p.Entry[0].Changes, 1)

	v := p.Entry[0].Changes[0].Value
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "hello", v.Messages[0].Text.Body)
	assert.Equal(t, "Ada", v.Contacts[0].Profile.Name)
	require.Len(t, v.Statuses, 1)
	assert.Equal(t, "delivered", v.Statuses[0].Status)
}
