package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// AgeEncryptor implements Encryptor with an age scrypt (passphrase) recipient.
// It backs the native credential file.
type AgeEncryptor struct {
	recipient *age.ScryptRecipient
	identity  *age.ScryptIdentity
}

// NewAgeEncryptor derives an encryptor from passphrase.
func NewAgeEncryptor(passphrase string) (*AgeEncryptor, error) {
	if passphrase == "" {
		return nil, errors.New("age: empty passphrase")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("age recipient: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("age identity: %w", err)
	}
	return &AgeEncryptor{recipient: recipient, identity: identity}, nil
}

// SetWorkFactor lowers the scrypt cost. Only tests should call it.
func (e *AgeEncryptor) SetWorkFactor(logN int) {
	e.recipient.SetWorkFactor(logN)
}

// Encrypt returns base64 of the age ciphertext.
func (e *AgeEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt. A wrong passphrase is reported as an error.
func (e *AgeEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), e.identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return string(plain), nil
}
