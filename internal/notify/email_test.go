package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	if sender := NewSendGridSender(SendGridConfig{FromEmail: "citas@example.com"}, nil); sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "citas@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "ClinicAI" {
		t.Errorf("expected default from name 'ClinicAI', got %q", sender.fromName)
	}
}

type fakeSendGrid struct {
	status int
	err    error
	got    *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.got = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeSendGrid
		wantErr bool
	}{
		{name: "accepted", client: &fakeSendGrid{status: 202}},
		{name: "rejected", client: &fakeSendGrid{status: 401}, wantErr: true},
		{name: "transport error", client: &fakeSendGrid{err: errors.New("dial tcp")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newSendGridSender(tt.client, SendGridConfig{FromEmail: "citas@example.com", FromName: "Fisio Centro"}, nil)
			err := sender.Send(context.Background(), EmailMessage{To: "recepcion@example.com", Subject: "Nueva cita", Body: "texto"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.client.got == nil || tt.client.got.From.Address != "citas@example.com" {
				t.Fatalf("unexpected message %#v", tt.client.got)
			}
		})
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com"}); err == nil {
		t.Error("expected error when client is nil")
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "citas@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "recepcion@example.com", Subject: "Nueva cita", Body: "texto", HTML: "<p>texto</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "ClinicAI <citas@example.com>" {
		t.Errorf("unexpected from %q", got)
	}
	if got := client.input.Destination.ToAddresses; len(got) != 1 || got[0] != "recepcion@example.com" {
		t.Errorf("unexpected destination %v", got)
	}
	body := client.input.Content.Simple.Body
	if aws.ToString(body.Text.Data) != "texto" || aws.ToString(body.Html.Data) != "<p>texto</p>" {
		t.Errorf("unexpected body %#v", body)
	}
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "citas@example.com"}, nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Body: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	if err := NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}
