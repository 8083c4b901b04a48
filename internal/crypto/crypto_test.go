package crypto

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

type fakeKMS struct {
	failEncrypt bool
}

func (f *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.failEncrypt {
		return nil, errors.New("AccessDeniedException")
	}
	blob := append([]byte(*in.KeyId+"|"), in.Plaintext...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	prefix := *in.KeyId + "|"
	if len(in.CiphertextBlob) < len(prefix) || string(in.CiphertextBlob[:len(prefix)]) != prefix {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: in.CiphertextBlob[len(prefix):]}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	s := NewKMSService(&fakeKMS{}, "alias/test")
	ctx := context.Background()

	ct, err := s.Encrypt(ctx, "refresh-token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ct == "refresh-token" {
		t.Fatal("ciphertext should not equal plaintext")
	}

	pt, err := s.Decrypt(ctx, ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if pt != "refresh-token" {
		t.Errorf("Decrypt = %q, want %q", pt, "refresh-token")
	}
}

func TestKMSService_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewKMSService(&fakeKMS{failEncrypt: true}, "k").Encrypt(ctx, "x"); err == nil {
		t.Error("expected encrypt error")
	}
	if _, err := NewKMSService(&fakeKMS{}, "k").Decrypt(ctx, "%%%not-base64"); err == nil {
		t.Error("expected decode error")
	}
}

func TestMockEncryptor(t *testing.T) {
	m := NewMockEncryptor()
	ctx := context.Background()

	ct, _ := m.Encrypt(ctx, "abc")
	if ct != "mock:abc" {
		t.Errorf("Encrypt = %q, want %q", ct, "mock:abc")
	}
	pt, _ := m.Decrypt(ctx, ct)
	if pt != "abc" {
		t.Errorf("Decrypt = %q, want %q", pt, "abc")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	e, err := NewAgeEncryptor("correct horse")
	if err != nil {
		t.Fatalf("NewAgeEncryptor: %v", err)
	}
	e.SetWorkFactor(10)
	ctx := context.Background()

	ct, err := e.Encrypt(ctx, "access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := e.Decrypt(ctx, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "access-token" {
		t.Errorf("Decrypt = %q, want %q", pt, "access-token")
	}

	other, _ := NewAgeEncryptor("wrong passphrase")
	if _, err := other.Decrypt(ctx, ct); err == nil {
		t.Error("expected error decrypting with the wrong passphrase")
	}
}

func TestAgeEncryptor_EmptyPassphrase(t *testing.T) {
	if _, err := NewAgeEncryptor(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}
